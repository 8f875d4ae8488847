package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/starcrew-ai/starcrew/internal/errs"
)

// DefaultRetryDelays is the capped exponential backoff schedule applied to
// transient failures.
var DefaultRetryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	10 * time.Second,
}

// RetryConfig tunes [Retry]. Zero-value fields take defaults: the standard
// delay schedule, five attempts, and [errs.IsRetryable] as the predicate.
type RetryConfig struct {
	// Delays is the backoff schedule. Attempts beyond its length reuse the
	// final delay.
	Delays []time.Duration

	// MaxAttempts is the total number of calls, first try included.
	MaxAttempts int

	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if len(c.Delays) == 0 {
		c.Delays = DefaultRetryDelays
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Retryable == nil {
		c.Retryable = errs.IsRetryable
	}
	return c
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping the scheduled delay
// between attempts. Non-retryable errors and context cancellation return
// immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is [Retry] for operations that produce a value.
func RetryWithResult[R any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (R, error)) (R, error) {
	cfg = cfg.withDefaults()

	var (
		zero    R
		lastErr error
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delays[min(attempt, len(cfg.Delays))-1]
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, fmt.Errorf("retry exhausted after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
