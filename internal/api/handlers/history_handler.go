package handlers

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/storage/models"
	"github.com/english-check/backend/internal/storage/sqlite"
)

type HistoryStore interface {
	ListSubmissions(limit int) ([]models.SubmissionRecord, error)
	GetByRequestID(requestID string) (*models.SubmissionRecord, error)
}

type HistoryHandler struct {
	store  HistoryStore
	logger *zap.Logger
}

func NewHistoryHandler(store HistoryStore, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		store:  store,
		logger: logger,
	}
}

func (h *HistoryHandler) ListHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	records, err := h.store.ListSubmissions(limit)
	if err != nil {
		h.logger.Error("Failed to list history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to list history",
			"details": err.Error(),
		})
	}

	out := make([]fiber.Map, 0, len(records))
	for i := range records {
		out = append(out, historyView(&records[i]))
	}
	return c.JSON(fiber.Map{
		"submissions": out,
		"count":       len(out),
	})
}

func (h *HistoryHandler) GetHistory(c *fiber.Ctx) error {
	rec, err := h.store.GetByRequestID(c.Params("requestId"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Submission not found",
			})
		}
		h.logger.Error("Failed to load submission", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to load submission",
			"details": err.Error(),
		})
	}
	return c.JSON(historyView(rec))
}

func (h *HistoryHandler) ExportHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 1000)
	records, err := h.store.ListSubmissions(limit)
	if err != nil {
		h.logger.Error("Failed to load history for export", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to export history",
			"details": err.Error(),
		})
	}

	var buf bytes.Buffer
	if err := sqlite.ExportXLSX(&buf, records); err != nil {
		h.logger.Error("Failed to render history workbook", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to export history",
			"details": err.Error(),
		})
	}

	filename := fmt.Sprintf("english-check-history-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(buf.Bytes())
}

func historyView(rec *models.SubmissionRecord) fiber.Map {
	view := fiber.Map{
		"id":         rec.ID,
		"requestId":  rec.RequestID,
		"question":   rec.Question,
		"studyLevel": rec.StudyLevel,
		"criteria":   rec.Criteria,
		"audioName":  rec.AudioName,
		"audioType":  rec.AudioType,
		"audioSize":  rec.AudioSize,
		"mode":       rec.Mode,
		"httpStatus": rec.HTTPStatus,
		"latencyMs":  rec.LatencyMS,
		"createdAt":  rec.CreatedAt,
	}
	if rec.ArchiveKey != "" {
		view["archiveKey"] = rec.ArchiveKey
	}
	if rec.DurationSec.Valid {
		view["durationSec"] = rec.DurationSec.Float64
	}
	if rec.WeightedScore.Valid {
		view["weightedScore"] = rec.WeightedScore.Float64
	}
	if rec.Error != "" {
		view["error"] = rec.Error
	}
	return view
}
