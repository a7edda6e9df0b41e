package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
	"github.com/kirillkom/symptom-assistant/internal/core/ports"
)

const markFailedTimeout = 10 * time.Second

type EnrichAnalysisUseCase struct {
	repo     ports.AnalysisRepository
	enricher ports.AnalysisEnricher
	archive  ports.ObjectStorage
	observer ports.PipelineObserver

	inFlightWindow time.Duration
}

// NewEnrichAnalysisUseCase wires phase 2. archive may be nil, in which case
// raw replies are not kept.
func NewEnrichAnalysisUseCase(
	repo ports.AnalysisRepository,
	enricher ports.AnalysisEnricher,
	archive ports.ObjectStorage,
	observer ports.PipelineObserver,
) *EnrichAnalysisUseCase {
	if observer == nil {
		observer = nopObserver{}
	}
	return &EnrichAnalysisUseCase{
		repo:     repo,
		enricher: enricher,
		archive:  archive,
		observer: observer,
	}
}

// WithInFlightWindow makes the explicit trigger refuse a pending record that
// changed less than d ago, since a queued run for it may still be going.
// Older pending records are treated as stranded and run again.
func (uc *EnrichAnalysisUseCase) WithInFlightWindow(d time.Duration) *EnrichAnalysisUseCase {
	uc.inFlightWindow = d
	return uc
}

// ProcessForOwner runs phase 2 on request. Once the record is loaded the run
// is detached from ctx, so a dropped client cannot leave it half done.
func (uc *EnrichAnalysisUseCase) ProcessForOwner(ctx context.Context, ownerID, analysisID string) (*domain.AnalysisRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "process analysis", errors.New("owner is required"))
	}
	record, err := uc.repo.GetForOwner(ctx, ownerID, analysisID)
	if err != nil {
		return nil, fmt.Errorf("fetch analysis for owner: %w", err)
	}
	if record.Status == domain.StatusPending && uc.inFlightWindow > 0 && time.Since(record.UpdatedAt) < uc.inFlightWindow {
		return nil, domain.WrapError(domain.ErrConflict, "process analysis",
			fmt.Errorf("analysis %s is already queued for enrichment", record.ID))
	}
	return uc.process(context.WithoutCancel(ctx), record)
}

// ProcessQueued runs phase 2 for a delivered message. ctx carries the worker
// deadline; a run cut short by it still ends in the failed state.
func (uc *EnrichAnalysisUseCase) ProcessQueued(ctx context.Context, analysisID string) error {
	record, err := uc.repo.GetByID(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("fetch analysis by id: %w", err)
	}
	if record.Status == domain.StatusComplete {
		slog.InfoContext(ctx, "analysis_already_complete", "analysis_id", analysisID)
		return nil
	}
	_, err = uc.process(ctx, record)
	if domain.IsKind(err, domain.ErrConflict) {
		return nil
	}
	return err
}

func (uc *EnrichAnalysisUseCase) process(ctx context.Context, record *domain.AnalysisRecord) (*domain.AnalysisRecord, error) {
	switch record.Status {
	case domain.StatusComplete:
		return nil, domain.WrapError(domain.ErrConflict, "process analysis", fmt.Errorf("analysis %s is already complete", record.ID))
	case domain.StatusFailed:
		if err := uc.repo.MarkPending(ctx, record.ID); err != nil {
			return nil, fmt.Errorf("set status=pending: %w", err)
		}
		record.Status = domain.StatusPending
		record.Error = ""
	}

	enrichment, err := uc.enricher.Enrich(ctx, record)
	if err != nil {
		uc.archiveMalformedReply(ctx, record.ID, err)
		uc.observer.ObserveEnrichment(domain.OutcomeOf(err), "", 0, 0)
		return nil, uc.fail(ctx, record.ID, fmt.Errorf("enrich analysis: %w", err))
	}
	uc.archiveReply(ctx, record.ID, enrichment.Raw)

	result := enrichment.Result
	result.Normalize()
	score := domain.ConfidenceScore(result.Conditions)

	if err := uc.repo.SaveResult(ctx, record.ID, result, score); err != nil {
		uc.observer.ObserveEnrichment(domain.OutcomePersistence, enrichment.Model, enrichment.PromptTokens, enrichment.CompletionTokens)
		if domain.IsKind(err, domain.ErrConflict) {
			return nil, fmt.Errorf("save analysis result: %w", err)
		}
		return nil, uc.fail(ctx, record.ID, fmt.Errorf("save analysis result: %w", err))
	}
	uc.observer.ObserveEnrichment(domain.OutcomeSuccess, enrichment.Model, enrichment.PromptTokens, enrichment.CompletionTokens)

	record.Status = domain.StatusComplete
	record.Result = &result
	record.ConfidenceScore = &score
	record.UpdatedAt = time.Now().UTC()
	return record, nil
}

func (uc *EnrichAnalysisUseCase) fail(ctx context.Context, analysisID string, processErr error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markFailedTimeout)
	defer cancel()
	if failErr := uc.repo.MarkFailed(failCtx, analysisID, processErr.Error()); failErr != nil {
		return fmt.Errorf("%w; mark failed status: %v", processErr, failErr)
	}
	return processErr
}

func (uc *EnrichAnalysisUseCase) archiveMalformedReply(ctx context.Context, analysisID string, err error) {
	var malformed *domain.MalformedReplyError
	if errors.As(err, &malformed) {
		uc.archiveReply(ctx, analysisID, malformed.Raw)
	}
}

func (uc *EnrichAnalysisUseCase) archiveReply(ctx context.Context, analysisID, raw string) {
	if uc.archive == nil || raw == "" {
		return
	}
	key := fmt.Sprintf("analyses/%s/%d.json", analysisID, time.Now().UTC().UnixNano())
	if err := uc.archive.Save(ctx, key, bytes.NewBufferString(raw)); err != nil {
		slog.WarnContext(ctx, "enrichment_reply_archive_failed",
			"analysis_id", analysisID,
			"key", key,
			"error", err,
		)
	}
}
