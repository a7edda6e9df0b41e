package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

type capturedRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func completionServer(t *testing.T, status int, content string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		body, _ := json.Marshal(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4.1-test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 80, "total_tokens": 200},
		})
		_, _ = w.Write(body)
	}))
}

func newTestClient(serverURL, key string) *Client {
	return New(Config{APIKey: key, BaseURL: serverURL + "/v1", Model: "gpt-4.1-test"}, nil)
}

const validAnalysisReply = `{
  "conditions": [
    {"name": "Tension headache", "confidence": 85, "severity": "mild", "description": "d", "matching_symptoms": ["headache"]},
    {"name": "Influenza", "confidence": 72, "severity": "moderate", "description": "d", "matching_symptoms": ["fever"]},
    {"name": "Migraine", "confidence": 68, "severity": "moderate", "description": "d", "matching_symptoms": ["headache"]}
  ],
  "medications": [
    {"name": "Paracetamol", "dosage": "500mg", "duration": "3 days", "route": "oral", "side_effects": ["nausea"], "purpose": "fever", "precautions": "liver"}
  ],
  "severity_overall": "moderate",
  "seek_immediate_care": false,
  "care_recommendations": ["rest"],
  "follow_up": "in 3 days",
  "disclaimer": "educational only"
}`

func sampleRecord() *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		ID:       "a-1",
		OwnerID:  "user-1",
		Symptoms: []string{"headache", "fever"},
		Age:      "34",
	}
}

func TestEnrichBuildsPromptAndParsesReply(t *testing.T) {
	var captured capturedRequest
	server := completionServer(t, http.StatusOK, "```json\n"+validAnalysisReply+"\n```", &captured)
	defer server.Close()

	enricher := NewSymptomEnricher(newTestClient(server.URL, "sk-test"), time.Second)
	out, err := enricher.Enrich(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if len(out.Result.Conditions) != 3 || out.Result.Medications[0].Route != domain.RouteOral {
		t.Fatalf("unexpected parsed result %+v", out.Result)
	}
	if out.Model != "gpt-4.1-test" || out.PromptTokens != 120 || out.CompletionTokens != 80 {
		t.Fatalf("unexpected usage metadata %+v", out)
	}
	if domain.ConfidenceScore(out.Result.Conditions) != 75 {
		t.Fatalf("expected derived score 75")
	}

	if captured.MaxTokens != 2000 || captured.Temperature < 0.29 || captured.Temperature > 0.31 {
		t.Fatalf("unexpected sampling params %+v", captured)
	}
	if captured.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format, got %q", captured.ResponseFormat.Type)
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(captured.Messages))
	}
	prompt := captured.Messages[1].Content
	for _, want := range []string{"Age: 34", "Gender: Not provided", "Weight: Not provided", "Known Allergies: None provided", "Symptoms: headache, fever", "Additional Description: None provided"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestEnrichUpstreamStatusIsUpstreamError(t *testing.T) {
	server := completionServer(t, http.StatusInternalServerError, "", nil)
	defer server.Close()

	enricher := NewSymptomEnricher(newTestClient(server.URL, "sk-test"), time.Second)
	_, err := enricher.Enrich(context.Background(), sampleRecord())
	if !domain.IsKind(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestEnrichDoesNotRetryUpstreamFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":{"message":"busy"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	enricher := NewSymptomEnricher(newTestClient(server.URL, "sk-test"), time.Second)
	if _, err := enricher.Enrich(context.Background(), sampleRecord()); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", calls)
	}
}

func TestEnrichMissingKeyIsConfigError(t *testing.T) {
	server := completionServer(t, http.StatusOK, validAnalysisReply, nil)
	defer server.Close()

	enricher := NewSymptomEnricher(newTestClient(server.URL, ""), time.Second)
	_, err := enricher.Enrich(context.Background(), sampleRecord())
	if !domain.IsKind(err, domain.ErrUpstreamConfig) {
		t.Fatalf("expected ErrUpstreamConfig, got %v", err)
	}
}

func TestEnrichRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"not json":      "I think you have a cold.",
		"unknown key":   strings.Replace(validAnalysisReply, `"follow_up"`, `"diagnosis": "x", "follow_up"`, 1),
		"bad severity":  strings.Replace(validAnalysisReply, `"severity_overall": "moderate"`, `"severity_overall": "critical"`, 1),
		"bad route":     strings.Replace(validAnalysisReply, `"route": "oral"`, `"route": "inhaled"`, 1),
		"confidence":    strings.Replace(validAnalysisReply, `"confidence": 85`, `"confidence": 150`, 1),
		"wrong type":    strings.Replace(validAnalysisReply, `"confidence": 85`, `"confidence": "high"`, 1),
		"trailing data": validAnalysisReply + ` {"x": 1}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			server := completionServer(t, http.StatusOK, reply, nil)
			defer server.Close()

			enricher := NewSymptomEnricher(newTestClient(server.URL, "sk-test"), time.Second)
			_, err := enricher.Enrich(context.Background(), sampleRecord())
			if !domain.IsKind(err, domain.ErrSchemaParse) {
				t.Fatalf("expected ErrSchemaParse, got %v", err)
			}
			var malformed *domain.MalformedReplyError
			if !errors.As(err, &malformed) || malformed.Raw != reply {
				t.Fatalf("expected raw reply to be carried")
			}
		})
	}
}

func TestChatRespondSendsWindowAndLanguage(t *testing.T) {
	var captured capturedRequest
	reply := `{"response":"Descanse.","confidence":70,"reasoning":"r","recommend_medical_care":false,"care_urgency":"routine"}`
	server := completionServer(t, http.StatusOK, reply, &captured)
	defer server.Close()

	responder := NewChatResponder(newTestClient(server.URL, "sk-test"), time.Second)
	conversation := domain.NewConversationContext([]domain.ChatTurn{
		{Role: "user", Content: "hola"},
		{Role: "assistant", Content: "hola, que tal"},
	}, 10, "Spanish")

	out, err := responder.Respond(context.Background(), conversation, "me duele la cabeza")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if out.Response != "Descanse." || out.CareUrgency != domain.UrgencyRoutine || out.Fallback {
		t.Fatalf("unexpected reply %+v", out)
	}
	if len(captured.Messages) != 4 {
		t.Fatalf("expected system + 2 turns + message, got %d", len(captured.Messages))
	}
	if captured.Messages[2].Role != "assistant" || captured.Messages[3].Content != "me duele la cabeza" {
		t.Fatalf("unexpected message order %+v", captured.Messages)
	}
	if !strings.Contains(captured.Messages[0].Content, "in Spanish") {
		t.Fatalf("expected language instruction in system prompt")
	}
	if captured.MaxTokens != 800 {
		t.Fatalf("expected max_tokens 800, got %d", captured.MaxTokens)
	}
}

func TestChatRespondRejectsInvalidUrgency(t *testing.T) {
	reply := `{"response":"ok","confidence":70,"reasoning":"r","recommend_medical_care":false,"care_urgency":"whenever"}`
	server := completionServer(t, http.StatusOK, reply, nil)
	defer server.Close()

	responder := NewChatResponder(newTestClient(server.URL, "sk-test"), time.Second)
	_, err := responder.Respond(context.Background(), domain.ConversationContext{}, "hi")
	if !domain.IsKind(err, domain.ErrSchemaParse) {
		t.Fatalf("expected ErrSchemaParse, got %v", err)
	}
}

func TestReasoningModelsUseCompletionTokens(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, `{"response":"ok","confidence":50,"reasoning":"r","recommend_medical_care":true,"care_urgency":"urgent"}`)
	}))
	defer server.Close()

	client := New(Config{APIKey: "sk-test", BaseURL: server.URL + "/v1", Model: "o3-mini"}, nil)
	if _, err := NewChatResponder(client, time.Second).Respond(context.Background(), domain.ConversationContext{}, "hi"); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if _, ok := raw["max_tokens"]; ok {
		t.Fatalf("expected max_tokens to be omitted for reasoning models")
	}
	if raw["max_completion_tokens"] != float64(800) {
		t.Fatalf("expected max_completion_tokens 800, got %v", raw["max_completion_tokens"])
	}
}
