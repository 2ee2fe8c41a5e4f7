package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *Logger
}

// Do executes fn with exponential back-off retry logic. It stops early when
// ctx is done.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < r.MaxAttempts {
			delay := Backoff(r.BaseDelay, attempt, r.MaxDelay)
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt, r.MaxAttempts, lastErr, delay)
			}
			if err := Sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s interrupted after %d attempts: %w", operationName, attempt, lastErr)
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, r.MaxAttempts, lastErr)
}

// Backoff returns base * 2^(attempt-1), capped at max when max > 0.
func Backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
