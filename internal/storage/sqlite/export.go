package sqlite

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/english-check/backend/internal/storage/models"
)

const exportSheet = "Sheet1"

var exportHeaders = []string{
	"Request ID", "Created (UTC)", "Question", "Study Level", "Mode", "HTTP Status",
	"Duration (s)", "Weighted Score", "Latency (ms)", "Audio Name", "Audio Type",
	"Audio Size", "Criteria", "Error",
}

// ExportXLSX writes submission records as a single-sheet workbook.
func ExportXLSX(w io.Writer, records []models.SubmissionRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, h := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(exportHeaders), 1)
	if err := f.SetCellStyle(exportSheet, "A1", lastHeader, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for r, rec := range records {
		row := []interface{}{
			rec.RequestID,
			rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			rec.Question,
			rec.StudyLevel,
			rec.Mode,
			rec.HTTPStatus,
			nullable(rec.DurationSec.Valid, rec.DurationSec.Float64),
			nullable(rec.WeightedScore.Valid, rec.WeightedScore.Float64),
			rec.LatencyMS,
			rec.AudioName,
			rec.AudioType,
			rec.AudioSize,
			rec.Criteria,
			rec.Error,
		}
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return fmt.Errorf("failed to write row %d: %w", r+2, err)
			}
		}
	}

	if err := f.SetColWidth(exportSheet, "A", "A", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(exportSheet, "C", "C", 45); err != nil {
		return err
	}

	return f.Write(w)
}

func nullable(valid bool, v float64) interface{} {
	if !valid {
		return ""
	}
	return v
}
