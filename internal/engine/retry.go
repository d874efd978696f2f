package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// DefaultCallTimeout bounds a single provider call (create/update/delete/scale).
const DefaultCallTimeout = 5 * time.Minute

// DefaultMaxAttempts is how often a transient provider error is attempted
// before the change is marked failed.
const DefaultMaxAttempts = 5

// RetryPolicy defines backoff behavior for transient provider errors.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy applied to every change.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryWithBackoff executes fn with exponential backoff and jitter,
// retrying only while shouldRetry returns true for the error.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxAttempts-1 {
			delay := backoffDelay(attempt, policy.BaseDelay, policy.MaxDelay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", policy.MaxAttempts, lastErr)
}

// backoffDelay returns exponential backoff with full jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}
