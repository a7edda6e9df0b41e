package openai

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

// extractJSONObject tolerates prose or markdown fences around the object.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func decodeStrict(raw string, out any) error {
	dec := json.NewDecoder(strings.NewReader(extractJSONObject(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON object")
	}
	return nil
}

func parseAnalysisResult(raw string) (domain.AnalysisResult, error) {
	var result domain.AnalysisResult
	if err := decodeStrict(raw, &result); err != nil {
		return domain.AnalysisResult{}, &domain.MalformedReplyError{Raw: raw, Reason: err}
	}
	if problems := result.Validate(); len(problems) > 0 {
		return domain.AnalysisResult{}, &domain.MalformedReplyError{Raw: raw, Reason: errors.New(strings.Join(problems, "; "))}
	}
	result.Normalize()
	return result, nil
}

type chatReplyPayload struct {
	Response             string             `json:"response"`
	Confidence           float64            `json:"confidence"`
	Reasoning            string             `json:"reasoning"`
	RecommendMedicalCare bool               `json:"recommend_medical_care"`
	CareUrgency          domain.CareUrgency `json:"care_urgency"`
}

func parseChatReply(raw string) (*domain.ChatReply, error) {
	var payload chatReplyPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, &domain.MalformedReplyError{Raw: raw, Reason: err}
	}
	reply := &domain.ChatReply{
		Response:             strings.TrimSpace(payload.Response),
		Confidence:           payload.Confidence,
		Reasoning:            strings.TrimSpace(payload.Reasoning),
		RecommendMedicalCare: payload.RecommendMedicalCare,
		CareUrgency:          payload.CareUrgency,
	}
	if problems := reply.Validate(); len(problems) > 0 {
		return nil, &domain.MalformedReplyError{Raw: raw, Reason: errors.New(strings.Join(problems, "; "))}
	}
	return reply, nil
}
