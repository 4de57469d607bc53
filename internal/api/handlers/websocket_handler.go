package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/jobs"
	"github.com/english-check/backend/internal/storage/models"
	"github.com/english-check/backend/pkg/logger"
)

// WebSocketHandler pushes job status changes for one request until the job
// finishes, so clients need not poll.
type WebSocketHandler struct {
	store    jobs.Store
	interval time.Duration
	timeout  time.Duration
}

func NewWebSocketHandler(store jobs.Store, interval, timeout time.Duration) *WebSocketHandler {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &WebSocketHandler{
		store:    store,
		interval: interval,
		timeout:  timeout,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	requestID := c.Query("requestId")
	logger.Info("WebSocket status connection established", zap.String("request_id", requestID))

	defer func() {
		c.Close()
		logger.Info("WebSocket status connection closed", zap.String("request_id", requestID))
	}()

	if requestID == "" {
		h.sendError(c, "Missing requestId parameter")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	// the read loop only detects the peer going away
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.streamStatus(ctx, c, requestID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.sendError(c, "Timed out waiting for the assessment")
			return
		}
		if !errors.Is(err, context.Canceled) {
			logger.Error("Failed to stream job status", zap.String("request_id", requestID), zap.Error(err))
		}
	}
}

func (h *WebSocketHandler) streamStatus(ctx context.Context, c *websocket.Conn, requestID string) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last models.JobStatus
	for {
		job, err := h.store.Get(ctx, requestID)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				h.sendError(c, "Request not found")
				return nil
			}
			return err
		}

		if job.Status.Terminal() {
			return h.sendComplete(c, job)
		}
		if job.Status != last {
			if err := h.sendStatus(c, job); err != nil {
				return err
			}
			last = job.Status
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, job *models.Job) error {
	msg := map[string]interface{}{
		"type":      "status",
		"status":    job.Status,
		"requestId": job.ID,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, job *models.Job) error {
	msg := map[string]interface{}{
		"type":       "complete",
		"status":     job.Status,
		"requestId":  job.ID,
		"statusCode": job.StatusCode,
	}
	if job.Status == models.JobCompleted && len(job.Result) > 0 {
		msg["result"] = json.RawMessage(job.Result)
	} else {
		msg["error"] = job.Error
		msg["details"] = job.Details
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
