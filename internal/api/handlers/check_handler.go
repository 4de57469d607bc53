package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/assessment"
	"github.com/english-check/backend/internal/audio"
	"github.com/english-check/backend/internal/jobs"
	"github.com/english-check/backend/internal/metrics"
	"github.com/english-check/backend/internal/storage/models"
	"github.com/english-check/backend/internal/webhook"
	"github.com/english-check/backend/pkg/utils"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, sub *assessment.Submission) (*models.Job, bool, error)
	Depth() int
}

type Archiver interface {
	Archive(ctx context.Context, filename string, data []byte, contentType string) (string, error)
}

type HistoryRecorder interface {
	InsertSubmission(rec *models.SubmissionRecord) error
}

type CheckConfig struct {
	// Mode is the default when the request does not ask for async.
	Mode            string
	Limits          audio.Limits
	EnforceDuration bool
	// MaxUploadBytes caps the audio part itself; 0 leaves it to the body limit.
	MaxUploadBytes int64
	ArchiveTimeout time.Duration
	Logger         *zap.Logger
}

// CheckHandler accepts the multipart submission and forwards it to the
// assessment webhook, either inline or through the job queue.
type CheckHandler struct {
	forwarder jobs.Forwarder
	queue     Enqueuer
	history   HistoryRecorder
	archive   Archiver
	cfg       CheckConfig
	logger    *zap.Logger
}

// NewCheckHandler wires the submission endpoint. queue, history and archive
// are optional.
func NewCheckHandler(forwarder jobs.Forwarder, queue Enqueuer, history HistoryRecorder, archive Archiver, cfg CheckConfig) *CheckHandler {
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}
	if cfg.Limits == (audio.Limits{}) {
		cfg.Limits = audio.DefaultLimits()
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CheckHandler{
		forwarder: forwarder,
		queue:     queue,
		history:   history,
		archive:   archive,
		cfg:       cfg,
		logger:    cfg.Logger,
	}
}

func (h *CheckHandler) CheckEnglish(c *fiber.Ctx) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		metrics.UploadRejections.WithLabelValues("missing").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No audio file provided",
		})
	}

	if h.cfg.MaxUploadBytes > 0 && fh.Size > h.cfg.MaxUploadBytes {
		metrics.UploadRejections.WithLabelValues("size").Inc()
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": MsgFileTooLarge,
		})
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", zap.Error(err))
		return respondError(c, fmt.Errorf("failed to read upload: %w", err))
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		h.logger.Error("Failed to read uploaded file", zap.Error(err))
		return respondError(c, fmt.Errorf("failed to read upload: %w", err))
	}
	if len(data) == 0 {
		metrics.UploadRejections.WithLabelValues("missing").Inc()
		return respondError(c, assessment.ErrNoAudio)
	}

	mimeType, err := audio.CheckMIME(fh.Header.Get(fiber.HeaderContentType), data)
	if err != nil {
		metrics.UploadRejections.WithLabelValues("mime").Inc()
		h.logger.Warn("Rejected non-audio upload",
			zap.String("filename", fh.Filename),
			zap.String("content_type", fh.Header.Get(fiber.HeaderContentType)),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Only audio files are allowed",
		})
	}

	info, _ := audio.Probe(fh.Filename, data)
	if info.DurationKnown {
		metrics.AudioDuration.Observe(info.Duration.Seconds())
		if h.cfg.EnforceDuration {
			if err := h.cfg.Limits.Validate(info.Duration); err != nil {
				metrics.UploadRejections.WithLabelValues("duration").Inc()
				return respondError(c, err)
			}
		}
	}

	sub := &assessment.Submission{
		Audio:        data,
		AudioName:    fh.Filename,
		AudioType:    mimeType,
		Question:     formField(c, "question"),
		StudyLevel:   assessment.StudyLevel(formField(c, "studyLevel")),
		CriteriaJSON: formField(c, "criteria"),
	}

	rec := &models.SubmissionRecord{
		Question:   sub.Question,
		StudyLevel: string(sub.StudyLevel),
		Criteria:   sub.CriteriaJSON,
		AudioName:  fh.Filename,
		AudioType:  mimeType,
		AudioSize:  int64(len(data)),
		AudioHash:  utils.HashBytes(data),
	}
	if info.DurationKnown {
		rec.DurationSec = sql.NullFloat64{Float64: info.Duration.Seconds(), Valid: true}
	}
	rec.ArchiveKey = h.archiveAudio(c.UserContext(), sub)

	if h.wantsAsync(c) {
		return h.enqueue(c, sub, rec)
	}
	return h.forward(c, sub, rec)
}

func (h *CheckHandler) forward(c *fiber.Ctx, sub *assessment.Submission, rec *models.SubmissionRecord) error {
	rec.Mode = ModeSync
	rec.RequestID = uuid.New().String()
	log := h.logger.With(zap.String("request_id", rec.RequestID))

	log.Info("Forwarding submission",
		zap.String("filename", sub.AudioName),
		zap.Int("bytes", len(sub.Audio)),
		zap.String("study_level", string(sub.StudyLevel)),
	)

	start := time.Now()
	resp, err := h.forwarder.Forward(c.UserContext(), sub)
	elapsed := time.Since(start)
	metrics.ForwardDuration.WithLabelValues(ModeSync).Observe(elapsed.Seconds())
	rec.LatencyMS = elapsed.Milliseconds()

	if err != nil {
		status, msg := statusForError(err)
		if status == fiber.StatusGatewayTimeout {
			metrics.GatewayTimeouts.Inc()
		}
		metrics.SubmissionsTotal.WithLabelValues(ModeSync, "error").Inc()
		log.Error("Error forwarding request to webhook", zap.Int("status", status), zap.Error(err))

		rec.HTTPStatus = status
		rec.Error = err.Error()
		h.record(rec)

		return c.Status(status).JSON(fiber.Map{
			"error":   msg,
			"details": err.Error(),
		})
	}

	metrics.SubmissionsTotal.WithLabelValues(ModeSync, "ok").Inc()
	payload := resp.Payload()
	rec.HTTPStatus = fiber.StatusOK
	rec.WeightedScore = weightedScore(payload)
	h.record(rec)

	c.Set("X-Request-ID", rec.RequestID)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(payload)
}

func (h *CheckHandler) enqueue(c *fiber.Ctx, sub *assessment.Submission, rec *models.SubmissionRecord) error {
	rec.Mode = ModeAsync

	job, deduped, err := h.queue.Enqueue(c.UserContext(), sub)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(ModeAsync, "rejected").Inc()
		h.logger.Warn("Failed to enqueue submission", zap.Error(err))
		return respondError(c, err)
	}

	if deduped {
		c.Set("X-Deduplicated", "true")
	} else {
		metrics.SubmissionsTotal.WithLabelValues(ModeAsync, "accepted").Inc()
		metrics.JobTransitions.WithLabelValues(string(job.Status)).Inc()
		metrics.QueueDepth.Set(float64(h.queue.Depth()))
		rec.RequestID = job.ID
		rec.HTTPStatus = fiber.StatusAccepted
		h.record(rec)
	}

	c.Set("X-Request-ID", job.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":    "processing",
		"requestId": job.ID,
	})
}

func (h *CheckHandler) wantsAsync(c *fiber.Ctx) bool {
	if h.queue == nil {
		return false
	}
	switch strings.ToLower(c.Query("mode")) {
	case ModeAsync:
		return true
	case ModeSync:
		return false
	}
	if strings.Contains(strings.ToLower(c.Get("Prefer")), "respond-async") {
		return true
	}
	return h.cfg.Mode == ModeAsync
}

// archiveAudio stores the clip when an archive is configured. Failures are
// logged and the submission continues.
func (h *CheckHandler) archiveAudio(ctx context.Context, sub *assessment.Submission) string {
	if h.archive == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ArchiveTimeout)
	defer cancel()

	key, err := h.archive.Archive(ctx, sub.AudioName, sub.Audio, sub.AudioType)
	if err != nil {
		metrics.ArchiveFailures.Inc()
		h.logger.Warn("Failed to archive audio", zap.Error(err))
		return ""
	}
	return key
}

func (h *CheckHandler) record(rec *models.SubmissionRecord) {
	if h.history == nil {
		return
	}
	if err := h.history.InsertSubmission(rec); err != nil {
		h.logger.Warn("Failed to record submission history", zap.Error(err))
	}
}

// formField prefers the sanitized value stored by the validation middleware.
func formField(c *fiber.Ctx, key string) string {
	if v, ok := c.Locals(key).(string); ok {
		return v
	}
	return strings.TrimSpace(c.FormValue(key))
}

func weightedScore(payload []byte) sql.NullFloat64 {
	result, err := assessment.DecodeResult(payload)
	if err != nil || result.WeightedAverage == nil || !result.WeightedAverage.Score.Valid {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: result.WeightedAverage.Score.Value, Valid: true}
}

var _ jobs.Forwarder = (*webhook.Client)(nil)

// OnJobFinish records async outcomes in metrics and history.
func OnJobFinish(history HistoryRecorder, logger *zap.Logger) func(jobs.Outcome) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(o jobs.Outcome) {
		metrics.ForwardDuration.WithLabelValues(ModeAsync).Observe(o.Elapsed.Seconds())
		metrics.JobTransitions.WithLabelValues(string(o.Job.Status)).Inc()

		outcome := "ok"
		if o.Err != nil {
			outcome = "error"
			if errors.Is(o.Err, webhook.ErrTimeout) {
				metrics.GatewayTimeouts.Inc()
			}
		}
		metrics.SubmissionsTotal.WithLabelValues(ModeAsync, outcome).Inc()

		if history == nil {
			return
		}
		rec := &models.SubmissionRecord{
			RequestID:  o.Job.ID,
			Question:   o.Job.Question,
			StudyLevel: o.Job.StudyLevel,
			Mode:       ModeAsync,
			HTTPStatus: o.Job.StatusCode,
			LatencyMS:  o.Elapsed.Milliseconds(),
			Error:      o.Job.Error,
		}
		if o.Submission != nil {
			rec.Criteria = o.Submission.CriteriaJSON
			rec.AudioName = o.Submission.AudioName
			rec.AudioType = o.Submission.AudioType
			rec.AudioSize = int64(len(o.Submission.Audio))
			rec.AudioHash = utils.HashBytes(o.Submission.Audio)
		}
		if o.Job.Status == models.JobCompleted {
			rec.WeightedScore = weightedScore(o.Job.Result)
		}
		if err := history.InsertSubmission(rec); err != nil {
			logger.Warn("Failed to record job outcome", zap.String("request_id", o.Job.ID), zap.Error(err))
		}
	}
}
