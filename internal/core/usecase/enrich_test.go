package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

type enricherFake struct {
	enrichment *domain.Enrichment
	err        error
	calls      int
	// during runs inside the call, before the reply is returned.
	during func()
	ctxErr error
}

func (f *enricherFake) Enrich(ctx context.Context, _ *domain.AnalysisRecord) (*domain.Enrichment, error) {
	f.calls++
	if f.during != nil {
		f.during()
	}
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.enrichment
	return &copied, nil
}

func pendingRecord(id, owner string) domain.AnalysisRecord {
	now := time.Now().UTC()
	return domain.AnalysisRecord{
		ID:        id,
		OwnerID:   owner,
		Symptoms:  []string{"headache", "fever"},
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func enrichmentWithConfidences(values ...float64) *domain.Enrichment {
	conditions := make([]domain.Condition, 0, len(values))
	for i, v := range values {
		conditions = append(conditions, domain.Condition{
			Name:       "condition-" + string(rune('a'+i)),
			Confidence: v,
			Severity:   domain.SeverityModerate,
		})
	}
	return &domain.Enrichment{
		Result: domain.AnalysisResult{
			Conditions:      conditions,
			SeverityOverall: domain.SeverityModerate,
			Disclaimer:      "not a diagnosis",
		},
		Raw:   `{"conditions":[]}`,
		Model: "gpt-4o-mini",
	}
}

func TestProcessForOwnerStoresResultAndScore(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	archive := &storageFake{}
	observer := &observerFake{}
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{enrichment: enrichmentWithConfidences(85, 72, 68)}, archive, observer)

	record, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if err != nil {
		t.Fatalf("ProcessForOwner() error = %v", err)
	}
	if record.Status != domain.StatusComplete {
		t.Fatalf("expected complete status, got %s", record.Status)
	}
	if record.ConfidenceScore == nil || *record.ConfidenceScore != 75 {
		t.Fatalf("expected confidence score 75, got %v", record.ConfidenceScore)
	}

	stored := repo.get("a-1")
	if stored.Status != domain.StatusComplete || stored.Result == nil || stored.ConfidenceScore == nil {
		t.Fatalf("expected stored result and score, got %+v", stored)
	}
	if *stored.ConfidenceScore != 75 {
		t.Fatalf("expected stored score 75, got %d", *stored.ConfidenceScore)
	}
	if stored.Result.Medications == nil || stored.Result.CareRecommendations == nil {
		t.Fatalf("expected normalized empty slices in stored result")
	}
	if len(archive.saved) != 1 {
		t.Fatalf("expected raw reply to be archived once, got %d", len(archive.saved))
	}
	for key := range archive.saved {
		if !strings.HasPrefix(key, "analyses/a-1/") {
			t.Fatalf("unexpected archive key %s", key)
		}
	}
	if len(observer.enrichments) != 1 || observer.enrichments[0] != domain.OutcomeSuccess {
		t.Fatalf("unexpected enrichment observations: %v", observer.enrichments)
	}
}

func TestProcessForOwnerRoundsHalfAwayFromZero(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{enrichment: enrichmentWithConfidences(70, 71)}, nil, nil)

	record, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if err != nil {
		t.Fatalf("ProcessForOwner() error = %v", err)
	}
	if *record.ConfidenceScore != 71 {
		t.Fatalf("expected score 71, got %d", *record.ConfidenceScore)
	}
}

func TestProcessForOwnerScoresEmptyConditionsAsZero(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{enrichment: enrichmentWithConfidences()}, nil, nil)

	record, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if err != nil {
		t.Fatalf("ProcessForOwner() error = %v", err)
	}
	if *record.ConfidenceScore != 0 {
		t.Fatalf("expected score 0, got %d", *record.ConfidenceScore)
	}
	if len(record.Result.Conditions) != 0 || record.Result.Conditions == nil {
		t.Fatalf("expected empty non-nil conditions")
	}
}

func TestProcessForOwnerMarksFailedOnUpstreamError(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	observer := &observerFake{}
	upstreamErr := domain.WrapError(domain.ErrUpstream, "chat completion", errors.New("status 500"))
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{err: upstreamErr}, nil, observer)

	_, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if !domain.IsKind(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	stored := repo.get("a-1")
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %s", stored.Status)
	}
	if stored.Result != nil || stored.ConfidenceScore != nil {
		t.Fatalf("expected no result after failure")
	}
	if !strings.Contains(stored.Error, "status 500") {
		t.Fatalf("expected stored error message, got %q", stored.Error)
	}
	if len(observer.enrichments) != 1 || observer.enrichments[0] != domain.OutcomeUpstream {
		t.Fatalf("unexpected enrichment observations: %v", observer.enrichments)
	}
}

func TestProcessForOwnerArchivesMalformedReply(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	archive := &storageFake{}
	malformed := &domain.MalformedReplyError{Raw: "not json at all", Reason: errors.New("no JSON object")}
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{err: malformed}, archive, nil)

	_, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if !domain.IsKind(err, domain.ErrSchemaParse) {
		t.Fatalf("expected ErrSchemaParse, got %v", err)
	}
	if repo.get("a-1").Status != domain.StatusFailed {
		t.Fatalf("expected failed status")
	}
	if len(archive.saved) != 1 {
		t.Fatalf("expected malformed reply to be archived")
	}
	for _, body := range archive.saved {
		if body != "not json at all" {
			t.Fatalf("unexpected archived body %q", body)
		}
	}
}

func TestProcessForOwnerMissingKeyFailsRecord(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	cfgErr := domain.WrapError(domain.ErrUpstreamConfig, "enrich analysis", errors.New("api key is empty"))
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{err: cfgErr}, nil, nil)

	_, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if !domain.IsKind(err, domain.ErrUpstreamConfig) {
		t.Fatalf("expected ErrUpstreamConfig, got %v", err)
	}
	if repo.get("a-1").Status != domain.StatusFailed {
		t.Fatalf("expected failed status")
	}
}

func TestProcessForOwnerRetriesFailedRecord(t *testing.T) {
	failed := pendingRecord("a-1", "user-1")
	failed.Status = domain.StatusFailed
	failed.Error = "previous failure"
	repo := newAnalysisRepoFake(failed)
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{enrichment: enrichmentWithConfidences(60)}, nil, nil)

	record, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if err != nil {
		t.Fatalf("ProcessForOwner() error = %v", err)
	}
	if record.Status != domain.StatusComplete || record.Error != "" {
		t.Fatalf("expected complete record without error, got %+v", record)
	}
	if len(repo.statusCalls) != 2 || repo.statusCalls[0] != domain.StatusPending || repo.statusCalls[1] != domain.StatusComplete {
		t.Fatalf("expected pending then complete, got %v", repo.statusCalls)
	}
}

func TestProcessForOwnerRejectsCompleteRecord(t *testing.T) {
	complete := pendingRecord("a-1", "user-1")
	complete.Status = domain.StatusComplete
	repo := newAnalysisRepoFake(complete)
	enricher := &enricherFake{enrichment: enrichmentWithConfidences(90)}
	uc := NewEnrichAnalysisUseCase(repo, enricher, nil, nil)

	_, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if enricher.calls != 0 {
		t.Fatalf("expected enricher not to be called")
	}
}

func TestProcessForOwnerHidesOtherOwnersRecord(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	enricher := &enricherFake{enrichment: enrichmentWithConfidences(90)}
	uc := NewEnrichAnalysisUseCase(repo, enricher, nil, nil)

	_, err := uc.ProcessForOwner(context.Background(), "user-2", "a-1")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if enricher.calls != 0 {
		t.Fatalf("expected enricher not to be called")
	}
}

func TestProcessForOwnerRequiresOwner(t *testing.T) {
	uc := NewEnrichAnalysisUseCase(newAnalysisRepoFake(), &enricherFake{}, nil, nil)

	_, err := uc.ProcessForOwner(context.Background(), " ", "a-1")
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestProcessForOwnerSaveFailureMarksFailed(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	repo.saveErr = domain.WrapError(domain.ErrPersistence, "save analysis result", errors.New("db down"))
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{enrichment: enrichmentWithConfidences(50)}, nil, nil)

	_, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if !domain.IsKind(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if repo.get("a-1").Status != domain.StatusFailed {
		t.Fatalf("expected failed status after save error")
	}
}

func TestProcessForOwnerSaveConflictDoesNotMarkFailed(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	repo.saveErr = domain.WrapError(domain.ErrConflict, "save analysis result", errors.New("status=complete"))
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{enrichment: enrichmentWithConfidences(50)}, nil, nil)

	_, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	for _, s := range repo.statusCalls {
		if s == domain.StatusFailed {
			t.Fatalf("did not expect failed transition, got %v", repo.statusCalls)
		}
	}
}

func TestProcessForOwnerReportsMarkFailedError(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	repo.failErr = errors.New("db unavailable")
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{err: domain.WrapError(domain.ErrUpstream, "enrich", errors.New("boom"))}, nil, nil)

	_, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if !domain.IsKind(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if !strings.Contains(err.Error(), "mark failed status: db unavailable") {
		t.Fatalf("expected mark failed detail, got %v", err)
	}
}

func TestProcessForOwnerFinishesAfterClientDisconnect(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	enricher := &enricherFake{enrichment: enrichmentWithConfidences(80), during: cancel}
	uc := NewEnrichAnalysisUseCase(repo, enricher, nil, nil)

	record, err := uc.ProcessForOwner(ctx, "user-1", "a-1")
	if err != nil {
		t.Fatalf("ProcessForOwner() error = %v", err)
	}
	if enricher.ctxErr != nil {
		t.Fatalf("expected enrichment call to ignore the client context, got %v", enricher.ctxErr)
	}
	if record.Status != domain.StatusComplete || repo.get("a-1").Status != domain.StatusComplete {
		t.Fatalf("expected stored complete record, got %+v", repo.get("a-1"))
	}
}

func TestProcessQueuedMarksFailedWhenDeadlineCutsCallShort(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	enricher := &enricherFake{
		err:    domain.WrapError(domain.ErrUpstream, "enrich_analysis", context.Canceled),
		during: cancel,
	}
	uc := NewEnrichAnalysisUseCase(repo, enricher, nil, nil)

	err := uc.ProcessQueued(ctx, "a-1")
	if !domain.IsKind(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if strings.Contains(err.Error(), "mark failed status") {
		t.Fatalf("expected failed transition to be written, got %v", err)
	}
	stored := repo.get("a-1")
	if stored.Status != domain.StatusFailed || !strings.Contains(stored.Error, "context canceled") {
		t.Fatalf("expected failed record with cause, got %+v", stored)
	}
}

func TestProcessForOwnerRefusesRecentlyQueuedRecord(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	enricher := &enricherFake{enrichment: enrichmentWithConfidences(90)}
	uc := NewEnrichAnalysisUseCase(repo, enricher, nil, nil).WithInFlightWindow(2 * time.Minute)

	_, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if enricher.calls != 0 {
		t.Fatalf("expected no outbound call while the queued run may be in flight")
	}
}

func TestProcessForOwnerRunsStrandedPendingRecord(t *testing.T) {
	stranded := pendingRecord("a-1", "user-1")
	stranded.UpdatedAt = time.Now().Add(-10 * time.Minute)
	repo := newAnalysisRepoFake(stranded)
	enricher := &enricherFake{enrichment: enrichmentWithConfidences(90)}
	uc := NewEnrichAnalysisUseCase(repo, enricher, nil, nil).WithInFlightWindow(2 * time.Minute)

	if _, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1"); err != nil {
		t.Fatalf("ProcessForOwner() error = %v", err)
	}
	if enricher.calls != 1 || repo.get("a-1").Status != domain.StatusComplete {
		t.Fatalf("expected stranded record to be enriched once")
	}
}

func TestProcessForOwnerRetriesRecentlyFailedRecordInsideWindow(t *testing.T) {
	failed := pendingRecord("a-1", "user-1")
	failed.Status = domain.StatusFailed
	repo := newAnalysisRepoFake(failed)
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{enrichment: enrichmentWithConfidences(55)}, nil, nil).
		WithInFlightWindow(2 * time.Minute)

	if _, err := uc.ProcessForOwner(context.Background(), "user-1", "a-1"); err != nil {
		t.Fatalf("ProcessForOwner() error = %v", err)
	}
}

func TestProcessQueuedSkipsCompleteRecord(t *testing.T) {
	complete := pendingRecord("a-1", "user-1")
	complete.Status = domain.StatusComplete
	repo := newAnalysisRepoFake(complete)
	enricher := &enricherFake{enrichment: enrichmentWithConfidences(90)}
	uc := NewEnrichAnalysisUseCase(repo, enricher, nil, nil)

	if err := uc.ProcessQueued(context.Background(), "a-1"); err != nil {
		t.Fatalf("ProcessQueued() error = %v", err)
	}
	if enricher.calls != 0 {
		t.Fatalf("expected enricher not to be called for complete record")
	}
}

func TestProcessQueuedCompletesPendingRecord(t *testing.T) {
	repo := newAnalysisRepoFake(pendingRecord("a-1", "user-1"))
	uc := NewEnrichAnalysisUseCase(repo, &enricherFake{enrichment: enrichmentWithConfidences(40, 60)}, nil, nil)

	if err := uc.ProcessQueued(context.Background(), "a-1"); err != nil {
		t.Fatalf("ProcessQueued() error = %v", err)
	}
	stored := repo.get("a-1")
	if stored.Status != domain.StatusComplete || *stored.ConfidenceScore != 50 {
		t.Fatalf("unexpected stored record %+v", stored)
	}
}

func TestProcessQueuedUnknownID(t *testing.T) {
	uc := NewEnrichAnalysisUseCase(newAnalysisRepoFake(), &enricherFake{}, nil, nil)

	err := uc.ProcessQueued(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
