package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/jobs"
	"github.com/english-check/backend/internal/storage/models"
)

// mockAssessment is returned by the status endpoint in mock mode, for
// exercising client polling without a webhook.
var mockAssessment = fiber.Map{
	"output": fiber.Map{
		"assessment": fiber.Map{
			"pronunciation": 8,
			"vocabulary":    7,
			"grammar":       8,
			"fluency":       7,
		},
		"feedback": "Your pronunciation is good, but you could improve your vocabulary. " +
			"Your grammar is strong, and your fluency is developing well.",
	},
}

type StatusHandler struct {
	store  jobs.Store
	mock   bool
	logger *zap.Logger
}

func NewStatusHandler(store jobs.Store, mock bool, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		store:  store,
		mock:   mock,
		logger: logger,
	}
}

func (h *StatusHandler) GetStatus(c *fiber.Ctx) error {
	requestID := c.Query("requestId")
	if requestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing requestId parameter",
		})
	}

	h.logger.Debug("Status check", zap.String("request_id", requestID))

	if h.mock {
		return c.JSON(mockAssessment)
	}

	job, err := h.store.Get(c.UserContext(), requestID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":     "Request not found",
				"requestId": requestID,
			})
		}
		h.logger.Error("Failed to load job", zap.String("request_id", requestID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to check request status",
			"details": err.Error(),
		})
	}

	switch job.Status {
	case models.JobCompleted:
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(fiber.StatusOK).Send(job.Result)
	case models.JobFailed:
		status := job.StatusCode
		if status < 400 {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    string(models.JobFailed),
			"requestId": job.ID,
			"error":     job.Error,
			"details":   job.Details,
		})
	default:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status":    "processing",
			"requestId": job.ID,
		})
	}
}

// ListJobs returns the most recent jobs without their payloads.
func (h *StatusHandler) ListJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 200 {
		limit = 20
	}

	list, err := h.store.List(c.UserContext(), limit)
	if err != nil {
		h.logger.Error("Failed to list jobs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to list jobs",
			"details": err.Error(),
		})
	}

	out := make([]fiber.Map, 0, len(list))
	for _, j := range list {
		out = append(out, fiber.Map{
			"requestId":  j.ID,
			"status":     j.Status,
			"statusCode": j.StatusCode,
			"attempts":   j.Attempts,
			"error":      j.Error,
			"createdAt":  j.CreatedAt,
			"updatedAt":  j.UpdatedAt,
		})
	}
	return c.JSON(fiber.Map{
		"jobs":  out,
		"count": len(out),
	})
}
