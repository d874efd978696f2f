package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopforge-io/shopforge/internal/provider"
)

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		attempts++
		if attempts < 3 {
			return provider.Transientf("create", "test", errors.New("throttled"))
		}
		return nil
	}, provider.IsTransient)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		attempts++
		return provider.Permanentf("create", "test", errors.New("access denied"))
	}, provider.IsTransient)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		attempts++
		return provider.Transientf("create", "test", errors.New("timeout"))
	}, provider.IsTransient)

	require.Error(t, err)
	assert.Equal(t, 5, attempts)
	assert.Contains(t, err.Error(), "max attempts")
}

func TestRetry_CancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := RetryWithBackoff(ctx, &RetryPolicy{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Minute}, func() error {
		attempts++
		cancel()
		return provider.Transientf("create", "test", errors.New("timeout"))
	}, provider.IsTransient)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelay_Bounded(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := backoffDelay(attempt, base, max)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, max)
		}
	}
}
