package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
	"github.com/kirillkom/symptom-assistant/internal/infrastructure/resilience"
)

const DefaultModel = "gpt-4.1-2025-04-14"

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Client is a thin chat-completions wrapper shared by the enricher and the
// chat responder.
type Client struct {
	api    *openai.Client
	model  string
	hasKey bool
	exec   *resilience.Executor
}

func New(cfg Config, exec *resilience.Executor) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		apiCfg.BaseURL = base
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.SingleAttempt())
	}
	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		model:  model,
		hasKey: strings.TrimSpace(cfg.APIKey) != "",
		exec:   exec,
	}
}

func (c *Client) Model() string {
	return c.model
}

type completionParams struct {
	operation   string
	messages    []openai.ChatCompletionMessage
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

type completion struct {
	content          string
	model            string
	promptTokens     int
	completionTokens int
}

func (c *Client) complete(ctx context.Context, p completionParams) (*completion, error) {
	if !c.hasKey {
		return nil, domain.WrapError(domain.ErrUpstreamConfig, p.operation, errors.New("openai api key is empty"))
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: p.messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	// Reasoning models reject max_tokens and any temperature other than the default.
	if isReasoningModel(c.model) {
		req.MaxCompletionTokens = p.maxTokens
	} else {
		req.MaxTokens = p.maxTokens
		req.Temperature = p.temperature
	}

	resp, err := resilience.Call(ctx, c.exec, "openai."+p.operation, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return c.api.CreateChatCompletion(ctx, req)
	}, classifyOpenAIError)
	if err != nil {
		return nil, upstreamError(p.operation, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &domain.MalformedReplyError{Reason: errors.New("reply has no choices")}
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &completion{
		content:          strings.TrimSpace(resp.Choices[0].Message.Content),
		model:            model,
		promptTokens:     resp.Usage.PromptTokens,
		completionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
