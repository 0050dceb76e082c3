package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryConfig controls provider-call retries for transient failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// RetryDo runs fn with exponential backoff on retryable errors. Auth and
// invalid-params failures are returned immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind := Classify(err)
		if kind != KindRetryable && kind != KindRateLimited {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Debug("provider retry", "attempt", attempt, "kind", kind, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	if lastErr == nil {
		lastErr = errors.New("retry attempts exhausted")
	}
	return zero, lastErr
}
