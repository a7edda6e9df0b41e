package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

const (
	DefaultEnrichmentTimeout = 60 * time.Second
	DefaultChatTimeout       = 30 * time.Second

	analysisTemperature = 0.3
	analysisMaxTokens   = 2000
	chatTemperature     = 0.7
	chatMaxTokens       = 800
)

type SymptomEnricher struct {
	client  *Client
	timeout time.Duration
}

func NewSymptomEnricher(client *Client, timeout time.Duration) *SymptomEnricher {
	if timeout <= 0 {
		timeout = DefaultEnrichmentTimeout
	}
	return &SymptomEnricher{client: client, timeout: timeout}
}

// Enrich makes exactly one completion call and validates the reply. A reply
// that does not match the schema is returned as *domain.MalformedReplyError.
func (e *SymptomEnricher) Enrich(ctx context.Context, record *domain.AnalysisRecord) (*domain.Enrichment, error) {
	if record == nil || len(record.Symptoms) == 0 {
		return nil, domain.WrapError(domain.ErrValidation, "enrich analysis", fmt.Errorf("record has no symptoms"))
	}

	out, err := e.client.complete(ctx, completionParams{
		operation: "enrich_analysis",
		messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildAnalysisPrompt(record)},
		},
		temperature: analysisTemperature,
		maxTokens:   analysisMaxTokens,
		timeout:     e.timeout,
	})
	if err != nil {
		return nil, err
	}

	result, err := parseAnalysisResult(out.content)
	if err != nil {
		return nil, err
	}
	return &domain.Enrichment{
		Result:           result,
		Raw:              out.content,
		Model:            out.model,
		PromptTokens:     out.promptTokens,
		CompletionTokens: out.completionTokens,
	}, nil
}

type ChatResponder struct {
	client  *Client
	timeout time.Duration
}

func NewChatResponder(client *Client, timeout time.Duration) *ChatResponder {
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}
	return &ChatResponder{client: client, timeout: timeout}
}

func (r *ChatResponder) Respond(ctx context.Context, conversation domain.ConversationContext, message string) (*domain.ChatReply, error) {
	out, err := r.client.complete(ctx, completionParams{
		operation:   "medical_chat",
		messages:    buildChatMessages(conversation, message),
		temperature: chatTemperature,
		maxTokens:   chatMaxTokens,
		timeout:     r.timeout,
	})
	if err != nil {
		return nil, err
	}
	return parseChatReply(out.content)
}
