package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"trading-core/internal/model"
)

// RetryConfig mirrors the teacher's async executor defaults: three retries,
// a 100ms base backoff doubling per attempt.
type RetryConfig struct {
	MaxRetries   int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	JitterFrac   float64
}

// DefaultRetryConfig returns the standard retry tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		JitterFrac:  0.2,
	}
}

// backoffFor returns the exponential backoff for the given 1-indexed
// attempt number, with +/-JitterFrac randomized jitter to avoid retry
// stampedes, capped at MaxBackoff.
func (c RetryConfig) backoffFor(attempt int) time.Duration {
	d := c.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	if c.JitterFrac <= 0 {
		return d
	}
	jitter := float64(d) * c.JitterFrac
	delta := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(d) + delta)
}

// WithRetry runs op, retrying up to cfg.MaxRetries times on a recoverable
// VenueError with exponential backoff between attempts. Non-VenueError
// failures and non-recoverable VenueErrors return immediately. ctx
// cancellation aborts the wait between attempts.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, op func(context.Context) (T, error)) (T, error) {
	var lastErr error
	var zero T
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var verr *model.VenueError
		if !errors.As(err, &verr) || !verr.IsRecoverable() {
			return zero, err
		}
		if attempt > cfg.MaxRetries {
			break
		}

		delay := cfg.backoffFor(attempt)
		if verr.RetryAfterMs > 0 {
			delay = verr.SuggestedRetryDelay()
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}
