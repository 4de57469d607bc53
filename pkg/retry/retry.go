package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy controls how Do repeats a failing operation. MaxAttempts counts
// the first call, so MaxAttempts == 1 means "never retry".
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// Retryable decides whether err is worth another attempt.
	// nil retries every error.
	Retryable func(err error) bool
	Logger    *zap.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    1,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         zap.NewNop(),
	}
}

// Permanent wraps err so Do stops immediately regardless of Retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

func Do(ctx context.Context, p Policy, operation func(attempt int) error) error {
	p = p.withDefaults()

	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(attempt)
		if err == nil {
			if attempt > 1 {
				p.Logger.Info("Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			p.Logger.Debug("Error not retryable", zap.Error(err), zap.Int("attempt", attempt))
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := addJitter(delay, p.JitterFraction)
		p.Logger.Warn("Operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		delay = time.Duration(math.Min(float64(p.MaxDelay), float64(delay)*p.Multiplier))
	}

	return lastErr
}

func DoWithResult[T any](ctx context.Context, p Policy, operation func(attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(attempt int) error {
		var err error
		result, err = operation(attempt)
		return err
	})
	return result, err
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return p
}

func addJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	jitter := time.Duration(rand.Float64() * float64(d) * fraction)
	if rand.Intn(2) == 0 {
		return d - jitter
	}
	return d + jitter
}
