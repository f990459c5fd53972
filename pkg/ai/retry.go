package ai

import (
	"context"
	"time"
)

// Attempt runs op up to maxAttempts times, sleeping baseDelay*2^(attempt-1)
// between attempts while retryable reports the failure as transient. The last
// error is returned unchanged so callers can inspect its concrete kind.
func Attempt(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, op func(context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := baseDelay << uint(attempt-2)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
