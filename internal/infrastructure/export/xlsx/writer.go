package xlsx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

const SheetName = "Analyses"

var header = []any{
	"ID", "Created At", "Status", "Symptoms", "Age", "Gender", "Weight",
	"Top Condition", "Confidence Score", "Overall Severity", "Seek Immediate Care", "Error",
}

type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// WriteAnalyses renders one row per record in the given order.
func (Writer) WriteAnalyses(w io.Writer, records []domain.AnalysisRecord) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	_ = f.SetColWidth(SheetName, "A", "A", 38)
	_ = f.SetColWidth(SheetName, "D", "D", 40)
	_ = f.SetColWidth(SheetName, "H", "H", 28)

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		row := recordRow(rec)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func recordRow(rec domain.AnalysisRecord) []any {
	var topCondition, severity, immediate string
	var score any = ""
	if rec.Result != nil {
		if top, ok := strongestCondition(rec.Result.Conditions); ok {
			topCondition = top.Name
		}
		severity = string(rec.Result.SeverityOverall)
		immediate = "no"
		if rec.Result.SeekImmediateCare {
			immediate = "yes"
		}
	}
	if rec.ConfidenceScore != nil {
		score = *rec.ConfidenceScore
	}
	return []any{
		rec.ID,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		string(rec.Status),
		strings.Join(rec.Symptoms, ", "),
		rec.Age,
		rec.Gender,
		rec.Weight,
		topCondition,
		score,
		severity,
		immediate,
		rec.Error,
	}
}

func strongestCondition(conditions []domain.Condition) (domain.Condition, bool) {
	if len(conditions) == 0 {
		return domain.Condition{}, false
	}
	best := conditions[0]
	for _, c := range conditions[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best, true
}
