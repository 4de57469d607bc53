package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/jobs"
	"github.com/english-check/backend/internal/metrics"
)

// HistoryPruner removes submission history older than a cutoff.
type HistoryPruner interface {
	PruneBefore(cutoff time.Time) (int64, error)
}

type Config struct {
	JobTTL           time.Duration
	JobPruneInterval time.Duration
	// HistoryRetention of zero disables history pruning.
	HistoryRetention time.Duration
	Logger           *zap.Logger
}

// Scheduler runs periodic maintenance: finished jobs past their TTL and old
// history rows are removed.
type Scheduler struct {
	scheduler *gocron.Scheduler
	store     jobs.Store
	history   HistoryPruner
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a scheduler. history may be nil when history is disabled.
func New(store jobs.Store, history HistoryPruner, cfg Config) *Scheduler {
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = time.Hour
	}
	if cfg.JobPruneInterval <= 0 {
		cfg.JobPruneInterval = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		store:     store,
		history:   history,
		cfg:       cfg,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Start registers the maintenance jobs and runs them in the background.
func (s *Scheduler) Start() error {
	minutes := int(s.cfg.JobPruneInterval / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	if _, err := s.scheduler.Every(minutes).Minutes().Do(s.pruneJobs); err != nil {
		return fmt.Errorf("failed to schedule job pruning: %w", err)
	}

	if s.history != nil && s.cfg.HistoryRetention > 0 {
		if _, err := s.scheduler.Every(1).Day().At("03:00").Do(s.pruneHistory); err != nil {
			return fmt.Errorf("failed to schedule history pruning: %w", err)
		}
	}

	s.scheduler.StartAsync()
	s.logger.Info("Maintenance scheduler started",
		zap.Duration("job_ttl", s.cfg.JobTTL),
		zap.Int("prune_interval_minutes", minutes),
		zap.Duration("history_retention", s.cfg.HistoryRetention),
	)
	return nil
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) pruneJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.DeleteBefore(ctx, s.now().Add(-s.cfg.JobTTL))
	if err != nil {
		s.logger.Error("Failed to prune jobs", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.PrunedTotal.WithLabelValues("jobs").Add(float64(n))
		s.logger.Info("Pruned finished jobs", zap.Int("removed", n))
	}
}

func (s *Scheduler) pruneHistory() {
	if s.history == nil {
		return
	}
	n, err := s.history.PruneBefore(s.now().Add(-s.cfg.HistoryRetention))
	if err != nil {
		s.logger.Error("Failed to prune history", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.PrunedTotal.WithLabelValues("history").Add(float64(n))
	}
}
