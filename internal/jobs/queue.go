package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/assessment"
	"github.com/english-check/backend/internal/storage/models"
	"github.com/english-check/backend/internal/webhook"
	"github.com/english-check/backend/pkg/retry"
	"github.com/english-check/backend/pkg/utils"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

type Forwarder interface {
	Forward(ctx context.Context, sub *assessment.Submission) (*webhook.Response, error)
}

// Outcome is passed to Config.OnFinish when a job reaches a terminal state.
type Outcome struct {
	Job        *models.Job
	Submission *assessment.Submission
	Response   *webhook.Response
	Err        error
	Elapsed    time.Duration
}

type Config struct {
	Workers   int
	QueueSize int
	// TTL bounds how long a finished job is reused for duplicate submissions.
	TTL      time.Duration
	Retry    retry.Policy
	Logger   *zap.Logger
	OnFinish func(Outcome)
}

type task struct {
	jobID string
	sub   *assessment.Submission
}

// Queue runs webhook forwards for async submissions on a fixed worker pool.
type Queue struct {
	store     Store
	forwarder Forwarder
	cfg       Config
	logger    *zap.Logger

	tasks  chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	started bool

	// dedupMu serializes lookup and create so concurrent identical
	// submissions share one job.
	dedupMu sync.Mutex
}

func NewQueue(store Store, forwarder Forwarder, cfg Config) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = webhook.Retryable
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:     store,
		forwarder: forwarder,
		cfg:       cfg,
		logger:    cfg.Logger,
		tasks:     make(chan task, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("Job queue started",
		zap.Int("workers", q.cfg.Workers),
		zap.Int("queue_size", q.cfg.QueueSize),
	)
}

// Stop stops accepting jobs and waits for queued ones to drain until ctx
// expires, after which in-flight forwards are cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) Depth() int {
	return len(q.tasks)
}

func (q *Queue) Store() Store {
	return q.store
}

// DedupKey identifies identical submissions.
func DedupKey(sub *assessment.Submission) string {
	criteria, _ := sub.CriteriaField()
	normalized, _ := assessment.NormalizeCriteriaJSON(criteria)
	return utils.HashParts(utils.HashBytes(sub.Audio), sub.Question, string(sub.StudyLevel), normalized)
}

// Enqueue registers a pending job and hands it to the workers. An identical
// submission within the TTL returns the existing job with deduped=true.
func (q *Queue) Enqueue(ctx context.Context, sub *assessment.Submission) (job *models.Job, deduped bool, err error) {
	key := DedupKey(sub)

	q.dedupMu.Lock()
	defer q.dedupMu.Unlock()

	if existing, err := q.store.FindByDedupKey(ctx, key); err == nil {
		if existing.Status != models.JobFailed && time.Since(existing.CreatedAt) < q.cfg.TTL {
			q.logger.Info("Duplicate submission, reusing job", zap.String("request_id", existing.ID))
			return existing, true, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		q.logger.Warn("Dedup lookup failed", zap.Error(err))
	}

	now := time.Now().UTC()
	job = &models.Job{
		ID:         uuid.New().String(),
		Status:     models.JobPending,
		DedupKey:   key,
		Question:   sub.Question,
		StudyLevel: string(sub.StudyLevel),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := q.store.Create(ctx, job); err != nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.markRejected(job, ErrQueueClosed)
		return nil, false, ErrQueueClosed
	}
	select {
	case q.tasks <- task{jobID: job.ID, sub: sub}:
	default:
		q.markRejected(job, ErrQueueFull)
		return nil, false, ErrQueueFull
	}

	q.logger.Info("Job enqueued", zap.String("request_id", job.ID), zap.Int("depth", len(q.tasks)))
	return job, false, nil
}

func (q *Queue) markRejected(job *models.Job, reason error) {
	job.Status = models.JobFailed
	job.StatusCode = 503
	job.Error = reason.Error()
	job.UpdatedAt = time.Now().UTC()
	if err := q.store.Update(context.Background(), job); err != nil {
		q.logger.Warn("Failed to mark rejected job", zap.String("request_id", job.ID), zap.Error(err))
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for t := range q.tasks {
		q.process(id, t)
	}
}

func (q *Queue) process(workerID int, t task) {
	ctx := q.ctx
	log := q.logger.With(zap.String("request_id", t.jobID), zap.Int("worker", workerID))

	job, err := q.store.Get(ctx, t.jobID)
	if err != nil {
		log.Error("Failed to load job", zap.Error(err))
		return
	}

	job.Status = models.JobRunning
	job.UpdatedAt = time.Now().UTC()
	if err := q.store.Update(ctx, job); err != nil {
		log.Warn("Failed to mark job running", zap.Error(err))
	}

	start := time.Now()
	resp, err := retry.DoWithResult(ctx, q.cfg.Retry, func(attempt int) (*webhook.Response, error) {
		job.Attempts = attempt
		return q.forwarder.Forward(ctx, t.sub)
	})
	elapsed := time.Since(start)

	job.UpdatedAt = time.Now().UTC()
	if err != nil {
		status, msg := webhook.Describe(err)
		job.Status = models.JobFailed
		job.StatusCode = status
		job.Error = msg
		job.Details = err.Error()
		log.Error("Job failed", zap.Int("status", status), zap.Int("attempts", job.Attempts), zap.Error(err))
	} else {
		job.Status = models.JobCompleted
		job.StatusCode = 200
		job.Result = resp.Payload()
		log.Info("Job completed", zap.Duration("elapsed", elapsed), zap.Int("attempts", job.Attempts))
	}

	if uerr := q.store.Update(context.Background(), job); uerr != nil {
		log.Error("Failed to store job result", zap.Error(uerr))
	}

	if q.cfg.OnFinish != nil {
		q.cfg.OnFinish(Outcome{
			Job:        job,
			Submission: t.sub,
			Response:   resp,
			Err:        err,
			Elapsed:    elapsed,
		})
	}
}
