package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
	"github.com/kirillkom/symptom-assistant/internal/core/ports"
)

type ChatUseCase struct {
	responder ports.ChatResponder
	window    int
	observer  ports.PipelineObserver
}

func NewChatUseCase(responder ports.ChatResponder, window int, observer ports.PipelineObserver) *ChatUseCase {
	if window <= 0 {
		window = domain.DefaultChatWindow
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &ChatUseCase{
		responder: responder,
		window:    window,
		observer:  observer,
	}
}

// Reply sends one message with the trailing conversation window. Only a blank
// or oversized message is reported as an error; every enrichment failure is
// answered with the fallback reply.
func (uc *ChatUseCase) Reply(ctx context.Context, req domain.ChatRequest) (reply *domain.ChatReply, err error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, domain.WrapError(domain.ErrValidation, "chat reply", errors.New("message is required"))
	}
	if utf8.RuneCountInString(message) > domain.MaxChatMessageSize {
		return nil, domain.WrapError(domain.ErrValidation, "chat reply", fmt.Errorf("message exceeds %d characters", domain.MaxChatMessageSize))
	}

	defer func() {
		if r := recover(); r != nil {
			reply = uc.fallback(ctx, req.OwnerID, "panic", fmt.Errorf("chat responder panic: %v", r))
			err = nil
		}
	}()

	conversation := domain.NewConversationContext(req.History, uc.window, req.Language)
	out, respondErr := uc.responder.Respond(ctx, conversation, message)
	if respondErr != nil {
		return uc.fallback(ctx, req.OwnerID, domain.OutcomeOf(respondErr), respondErr), nil
	}
	if out == nil {
		return uc.fallback(ctx, req.OwnerID, "empty_reply", errors.New("responder returned no reply")), nil
	}

	uc.observer.ObserveChat("")
	return out, nil
}

func (uc *ChatUseCase) fallback(ctx context.Context, ownerID, reason string, cause error) *domain.ChatReply {
	slog.WarnContext(ctx, "chat_fallback_reply",
		"owner_id", ownerID,
		"reason", reason,
		"error", cause,
	)
	uc.observer.ObserveChat(reason)
	reply := domain.FallbackChatReply(reason)
	return &reply
}
