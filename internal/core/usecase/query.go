package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
	"github.com/kirillkom/symptom-assistant/internal/core/ports"
)

type AnalysisQueryUseCase struct {
	repo ports.AnalysisRepository
}

func NewAnalysisQueryUseCase(repo ports.AnalysisRepository) *AnalysisQueryUseCase {
	return &AnalysisQueryUseCase{repo: repo}
}

func (uc *AnalysisQueryUseCase) Get(ctx context.Context, ownerID, analysisID string) (*domain.AnalysisRecord, error) {
	if err := requireOwner("get analysis", ownerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(analysisID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "get analysis", errors.New("analysis id is required"))
	}
	record, err := uc.repo.GetForOwner(ctx, ownerID, analysisID)
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return record, nil
}

func (uc *AnalysisQueryUseCase) List(ctx context.Context, ownerID string, limit, offset int) (*domain.AnalysisPage, error) {
	if err := requireOwner("list analyses", ownerID); err != nil {
		return nil, err
	}
	limit, offset = domain.ClampPage(limit, offset)
	items, err := uc.repo.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	if items == nil {
		items = []domain.AnalysisRecord{}
	}
	return &domain.AnalysisPage{Items: items, Limit: limit, Offset: offset}, nil
}

func (uc *AnalysisQueryUseCase) Stats(ctx context.Context, ownerID string) (*domain.AnalysisStats, error) {
	if err := requireOwner("analysis stats", ownerID); err != nil {
		return nil, err
	}
	stats, err := uc.repo.StatsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("analysis stats: %w", err)
	}
	return stats, nil
}

func requireOwner(operation, ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return domain.WrapError(domain.ErrUnauthorized, operation, errors.New("owner is required"))
	}
	return nil
}
