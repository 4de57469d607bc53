package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/jobs"
	"github.com/english-check/backend/internal/storage/models"
	"github.com/english-check/backend/pkg/logger"
)

const (
	keyPrefix = "english-check:job:"
	keyIndex  = "english-check:jobs:index" // sorted set: score=created_at ms, member=job id
	keyDedup  = "english-check:jobs:dedup" // hash: dedup key -> job id
)

// releaseDedupSrc removes a dedup mapping only while it still points at the
// given job, so a newer job's mapping survives.
const releaseDedupSrc = `
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`

var releaseDedupScript = redis.NewScript(releaseDedupSrc)

// Client is a Redis-backed jobs.Store. Job records expire after ttl so
// abandoned status entries clean themselves up.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

var _ jobs.Store = (*Client)(nil)

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return NewFromClient(client, ttl), nil
}

func NewFromClient(client *redis.Client, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{client: client, ttl: ttl}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) jobKey(id string) string { return keyPrefix + id }

func (c *Client) Create(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.SetNX(ctx, c.jobKey(job.ID), data, c.ttl)
	pipe.ZAdd(ctx, keyIndex, redis.Z{
		Score:  float64(job.CreatedAt.UnixMilli()),
		Member: job.ID,
	})
	if job.DedupKey != "" {
		pipe.HSet(ctx, keyDedup, job.DedupKey, job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	logger.Debug("Job created", zap.String("request_id", job.ID))
	return nil
}

func (c *Client) Get(ctx context.Context, id string) (*models.Job, error) {
	data, err := c.client.Get(ctx, c.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (c *Client) Update(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := c.client.SetXX(ctx, c.jobKey(job.ID), data, c.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if !ok {
		return jobs.ErrNotFound
	}
	if job.Status == models.JobFailed && job.DedupKey != "" {
		if err := c.releaseDedup(ctx, job.DedupKey, job.ID); err != nil {
			logger.Warn("Failed to release dedup key", zap.String("request_id", job.ID), zap.Error(err))
		}
	}
	return nil
}

func (c *Client) releaseDedup(ctx context.Context, key, id string) error {
	return releaseDedupScript.Run(ctx, c.client, []string{keyDedup}, key, id).Err()
}

func (c *Client) List(ctx context.Context, limit int) ([]*models.Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := c.client.ZRevRange(ctx, keyIndex, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := c.Get(ctx, id)
		if errors.Is(err, jobs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (c *Client) FindByDedupKey(ctx context.Context, key string) (*models.Job, error) {
	id, err := c.client.HGet(ctx, keyDedup, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up dedup key: %w", err)
	}

	job, err := c.Get(ctx, id)
	if errors.Is(err, jobs.ErrNotFound) {
		_ = c.releaseDedup(ctx, key, id)
	}
	return job, err
}

// DeleteBefore removes terminal jobs and drops index entries whose records
// have already expired.
func (c *Client) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := c.client.ZRangeByScore(ctx, keyIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan job index: %w", err)
	}

	removed := 0
	for _, id := range ids {
		job, err := c.Get(ctx, id)
		if errors.Is(err, jobs.ErrNotFound) {
			c.client.ZRem(ctx, keyIndex, id)
			continue
		}
		if err != nil {
			logger.Warn("Failed to read job during prune", zap.String("request_id", id), zap.Error(err))
			continue
		}
		if !job.Status.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}

		pipe := c.client.TxPipeline()
		pipe.Del(ctx, c.jobKey(id))
		pipe.ZRem(ctx, keyIndex, id)
		if job.DedupKey != "" {
			pipe.Eval(ctx, releaseDedupSrc, []string{keyDedup}, job.DedupKey, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("Failed to delete job", zap.String("request_id", id), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info("Pruned jobs from redis", zap.Int("removed", removed))
	}
	return removed, nil
}
