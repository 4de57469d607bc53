package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/english-check/backend/internal/storage/models"
)

var ErrNotFound = errors.New("job not found")

// Store persists job status records.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	List(ctx context.Context, limit int) ([]*models.Job, error)
	// FindByDedupKey returns the newest job with the key, or ErrNotFound.
	FindByDedupKey(ctx context.Context, key string) (*models.Job, error)
	// DeleteBefore removes terminal jobs last updated before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*models.Job
	dedup map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*models.Job),
		dedup: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists: " + job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	if job.DedupKey != "" {
		s.dedup[job.DedupKey] = job.ID
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	cp := *job
	s.jobs[job.ID] = &cp
	if job.Status == models.JobFailed && job.DedupKey != "" && s.dedup[job.DedupKey] == job.ID {
		delete(s.dedup, job.DedupKey)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*models.Job, error) {
	s.mu.RLock()
	out := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindByDedupKey(ctx context.Context, key string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.dedup[key]
	if !ok {
		return nil, ErrNotFound
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if !job.Status.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.jobs, id)
		if job.DedupKey != "" && s.dedup[job.DedupKey] == id {
			delete(s.dedup, job.DedupKey)
		}
		removed++
	}
	return removed, nil
}
