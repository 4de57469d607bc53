package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/english-check/backend/internal/assessment"
	"github.com/english-check/backend/internal/audio"
	"github.com/english-check/backend/internal/jobs"
	"github.com/english-check/backend/internal/webhook"
)

const MsgFileTooLarge = "File too large. Maximum size is 50MB."

// statusForError is the single place request errors become HTTP statuses.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, assessment.ErrNoAudio), errors.Is(err, audio.ErrEmpty):
		return fiber.StatusBadRequest, "No audio file provided"
	case errors.Is(err, audio.ErrNotAudio):
		return fiber.StatusBadRequest, "Only audio files are allowed"
	case errors.Is(err, audio.ErrTooShort), errors.Is(err, audio.ErrTooLong):
		return fiber.StatusBadRequest, "Invalid audio duration"
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueClosed):
		return fiber.StatusServiceUnavailable, "Assessment queue is busy, please try again later"
	case errors.Is(err, jobs.ErrNotFound):
		return fiber.StatusNotFound, "Request not found"
	case errors.Is(err, fiber.ErrRequestEntityTooLarge):
		return fiber.StatusRequestEntityTooLarge, MsgFileTooLarge
	default:
		return webhook.Describe(err)
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status, msg := statusForError(err)
	body := fiber.Map{"error": msg}
	if details := err.Error(); details != "" {
		body["details"] = details
	}
	return c.Status(status).JSON(body)
}

// ErrorHandler is the fiber application error handler. Oversized bodies get
// the upload-specific message; other fiber errors keep their status.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code == fiber.StatusRequestEntityTooLarge {
			return c.Status(fe.Code).JSON(fiber.Map{"error": MsgFileTooLarge})
		}
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "Failed to process request",
		"details": err.Error(),
	})
}
