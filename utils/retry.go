package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do executes fn with exponential back-off retry logic. It stops early when
// the context is cancelled so a pipeline deadline cuts off in-flight retries.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%s cancelled after %d attempts: %w", operationName, attempt-1, lastErr)
			}
			return fmt.Errorf("%s cancelled: %w", operationName, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < r.MaxAttempts {
			log.Warnf("%s failed (attempt %d/%d): %v — retrying in %v",
				operationName, attempt, r.MaxAttempts, lastErr, delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled during back-off: %w", operationName, lastErr)
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, r.MaxAttempts, lastErr)
}
