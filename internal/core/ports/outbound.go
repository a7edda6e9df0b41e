package ports

import (
	"context"
	"io"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

// AnalysisRepository persists and reads analysis records.
type AnalysisRepository interface {
	Create(ctx context.Context, record *domain.AnalysisRecord) error
	GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error)
	GetForOwner(ctx context.Context, ownerID, id string) (*domain.AnalysisRecord, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.AnalysisRecord, error)
	StatsByOwner(ctx context.Context, ownerID string) (*domain.AnalysisStats, error)
	// SaveResult writes result, score and status=complete in one statement.
	// It only applies to pending records.
	SaveResult(ctx context.Context, id string, result domain.AnalysisResult, confidenceScore int) error
	MarkPending(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMessage string) error
}

// MessageQueue publishes/consumes phase-2 triggers.
type MessageQueue interface {
	PublishAnalysisSubmitted(ctx context.Context, analysisID string) error
	SubscribeAnalysisSubmitted(ctx context.Context, handler func(context.Context, string) error) error
}

// AnalysisEnricher is the external enrichment boundary for symptom analyses.
type AnalysisEnricher interface {
	Enrich(ctx context.Context, record *domain.AnalysisRecord) (*domain.Enrichment, error)
}

// ChatResponder is the external enrichment boundary for chat messages.
type ChatResponder interface {
	Respond(ctx context.Context, conversation domain.ConversationContext, message string) (*domain.ChatReply, error)
}

// ObjectStorage stores raw enrichment replies.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
}

// SpreadsheetWriter renders records into a workbook.
type SpreadsheetWriter interface {
	WriteAnalyses(w io.Writer, records []domain.AnalysisRecord) error
}

// PipelineObserver receives pipeline outcomes for metrics.
type PipelineObserver interface {
	ObserveSubmission(queued bool)
	ObserveEnrichment(outcome string, model string, promptTokens, completionTokens int)
	ObserveChat(fallbackReason string)
}
