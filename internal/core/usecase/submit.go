package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
	"github.com/kirillkom/symptom-assistant/internal/core/ports"
)

type SubmitAnalysisUseCase struct {
	repo     ports.AnalysisRepository
	queue    ports.MessageQueue
	observer ports.PipelineObserver
}

func NewSubmitAnalysisUseCase(
	repo ports.AnalysisRepository,
	queue ports.MessageQueue,
	observer ports.PipelineObserver,
) *SubmitAnalysisUseCase {
	if observer == nil {
		observer = nopObserver{}
	}
	return &SubmitAnalysisUseCase{
		repo:     repo,
		queue:    queue,
		observer: observer,
	}
}

// Submit persists a pending record and then publishes its id for enrichment.
// A pending record always has a run queued or in progress. When the publish
// fails the record is kept but moved to failed, and the outcome is reported
// through EnrichmentQueued rather than as an error.
func (uc *SubmitAnalysisUseCase) Submit(ctx context.Context, req domain.SubmitAnalysisRequest) (*domain.SubmitAnalysisResult, error) {
	normalized, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &domain.AnalysisRecord{
		ID:          uuid.NewString(),
		OwnerID:     normalized.OwnerID,
		Symptoms:    normalized.Symptoms,
		Description: normalized.Description,
		Age:         normalized.Age,
		Weight:      normalized.Weight,
		Gender:      normalized.Gender,
		Allergies:   normalized.Allergies,
		Medications: normalized.Medications,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create analysis record: %w", err)
	}

	queued := true
	if err := uc.queue.PublishAnalysisSubmitted(ctx, record.ID); err != nil {
		queued = false
		slog.WarnContext(ctx, "analysis_enqueue_failed",
			"analysis_id", record.ID,
			"owner_id", record.OwnerID,
			"error", err,
		)
		uc.markUnqueued(ctx, record, err)
	}
	uc.observer.ObserveSubmission(queued)

	return &domain.SubmitAnalysisResult{
		Record:           record,
		EnrichmentQueued: queued,
	}, nil
}

func (uc *SubmitAnalysisUseCase) markUnqueued(ctx context.Context, record *domain.AnalysisRecord, publishErr error) {
	message := fmt.Sprintf("enrichment not queued: %v", publishErr)
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markFailedTimeout)
	defer cancel()
	if err := uc.repo.MarkFailed(failCtx, record.ID, message); err != nil {
		slog.ErrorContext(ctx, "analysis_mark_unqueued_failed",
			"analysis_id", record.ID,
			"error", err,
		)
		return
	}
	record.Status = domain.StatusFailed
	record.Error = message
}

type nopObserver struct{}

func (nopObserver) ObserveSubmission(bool)                    {}
func (nopObserver) ObserveEnrichment(string, string, int, int) {}
func (nopObserver) ObserveChat(string)                        {}
