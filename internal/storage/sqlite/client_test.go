package sqlite

import (
	"bytes"
	"database/sql"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/english-check/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(":memory:")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	return c
}

func TestInsertAndListSubmissions(t *testing.T) {
	c := newTestClient(t)

	older := &models.SubmissionRecord{
		RequestID:  "req-1",
		Question:   "Tell me about yourself.",
		StudyLevel: "3 Units",
		Mode:       "sync",
		HTTPStatus: 200,
		CreatedAt:  time.Now().Add(-time.Minute),
	}
	newer := &models.SubmissionRecord{
		RequestID:     "req-2",
		Question:      "Talk about your dream vacation.",
		Mode:          "async",
		HTTPStatus:    504,
		DurationSec:   sql.NullFloat64{Float64: 42, Valid: true},
		WeightedScore: sql.NullFloat64{Float64: 77.5, Valid: true},
		Error:         "Webhook request timed out",
	}
	for _, rec := range []*models.SubmissionRecord{older, newer} {
		if err := c.InsertSubmission(rec); err != nil {
			t.Fatalf("InsertSubmission failed: %v", err)
		}
	}
	if newer.ID == 0 {
		t.Error("Expected inserted ID to be set")
	}

	records, err := c.ListSubmissions(10)
	if err != nil {
		t.Fatalf("ListSubmissions failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].RequestID != "req-2" {
		t.Errorf("Expected newest first, got %s", records[0].RequestID)
	}
	if !records[0].WeightedScore.Valid || records[0].WeightedScore.Float64 != 77.5 {
		t.Errorf("Unexpected weighted score %+v", records[0].WeightedScore)
	}
	if records[1].DurationSec.Valid {
		t.Error("Missing duration should scan as NULL")
	}

	got, err := c.GetByRequestID("req-1")
	if err != nil || got.Question != older.Question {
		t.Errorf("GetByRequestID = %+v, %v", got, err)
	}
}

func TestPruneBefore(t *testing.T) {
	c := newTestClient(t)
	_ = c.InsertSubmission(&models.SubmissionRecord{RequestID: "old", Question: "q", Mode: "sync", HTTPStatus: 200, CreatedAt: time.Now().Add(-48 * time.Hour)})
	_ = c.InsertSubmission(&models.SubmissionRecord{RequestID: "new", Question: "q", Mode: "sync", HTTPStatus: 200})

	n, err := c.PruneBefore(time.Now().Add(-24 * time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 pruned row, got %d, %v", n, err)
	}
	records, _ := c.ListSubmissions(10)
	if len(records) != 1 || records[0].RequestID != "new" {
		t.Errorf("Unexpected remaining records: %+v", records)
	}
}

func TestExportXLSX(t *testing.T) {
	records := []models.SubmissionRecord{{
		RequestID:  "req-9",
		Question:   "Describe your best friend and his hobbies.",
		Mode:       "sync",
		HTTPStatus: 200,
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	if err := ExportXLSX(&buf, records); err != nil {
		t.Fatalf("ExportXLSX failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("Failed to reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected header + 1 row, got %d", len(rows))
	}
	if rows[0][0] != "Request ID" || rows[1][0] != "req-9" || rows[1][1] != "2024-05-01 10:00:00" {
		t.Errorf("Unexpected workbook contents: %v", rows)
	}
}
