package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
	"github.com/kirillkom/symptom-assistant/internal/core/ports"
)

const maxExportRows = 1000

type ExportAnalysesUseCase struct {
	repo   ports.AnalysisRepository
	writer ports.SpreadsheetWriter
}

func NewExportAnalysesUseCase(repo ports.AnalysisRepository, writer ports.SpreadsheetWriter) *ExportAnalysesUseCase {
	return &ExportAnalysesUseCase{repo: repo, writer: writer}
}

// Export writes the owner's most recent records, newest first.
func (uc *ExportAnalysesUseCase) Export(ctx context.Context, ownerID string, w io.Writer) error {
	if err := requireOwner("export analyses", ownerID); err != nil {
		return err
	}

	records := make([]domain.AnalysisRecord, 0, domain.MaxPageSize)
	for offset := 0; offset < maxExportRows; offset += domain.MaxPageSize {
		page, err := uc.repo.ListByOwner(ctx, ownerID, domain.MaxPageSize, offset)
		if err != nil {
			return fmt.Errorf("list analyses for export: %w", err)
		}
		records = append(records, page...)
		if len(page) < domain.MaxPageSize {
			break
		}
	}

	if err := uc.writer.WriteAnalyses(w, records); err != nil {
		return fmt.Errorf("write analyses workbook: %w", err)
	}
	return nil
}
