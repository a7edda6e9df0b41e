package ports

import (
	"context"
	"io"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

// AnalysisSubmitter is the inbound contract for phase 1: validate, persist, trigger enrichment.
type AnalysisSubmitter interface {
	Submit(ctx context.Context, req domain.SubmitAnalysisRequest) (*domain.SubmitAnalysisResult, error)
}

// AnalysisProcessor is the inbound contract for phase 2: enrich a stored record and write the result.
type AnalysisProcessor interface {
	// ProcessForOwner runs phase 2 on request of the record owner.
	ProcessForOwner(ctx context.Context, ownerID, analysisID string) (*domain.AnalysisRecord, error)
	// ProcessQueued runs phase 2 for a queued id; already complete records are skipped.
	ProcessQueued(ctx context.Context, analysisID string) error
}

// AnalysisReader is the owner-scoped read model.
type AnalysisReader interface {
	Get(ctx context.Context, ownerID, analysisID string) (*domain.AnalysisRecord, error)
	List(ctx context.Context, ownerID string, limit, offset int) (*domain.AnalysisPage, error)
	Stats(ctx context.Context, ownerID string) (*domain.AnalysisStats, error)
}

// AnalysisExporter writes an owner's records as a spreadsheet.
type AnalysisExporter interface {
	Export(ctx context.Context, ownerID string, w io.Writer) error
}

// ChatService answers one chat message. It only fails on invalid input;
// enrichment failures are answered with the fallback reply.
type ChatService interface {
	Reply(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error)
}
