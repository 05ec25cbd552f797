package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   50 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	result := RetryWithBackoff(context.Background(), fastConfig(), func() error { return nil })
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.NoError(t, result.LastError)
}

func TestRetryWithBackoff_EventualSuccess(t *testing.T) {
	attempts := 0
	result := RetryWithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return After(time.Millisecond, errors.New("rate limited"))
		}
		return nil
	})
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
}

func TestRetryWithBackoff_NilRetryableOnlyRetriesDelayErrors(t *testing.T) {
	// A send that timed out may have been processed, so it is not repeated.
	for _, msg := range []string{"HTTP 403 Forbidden", "timeout", "503 service unavailable", "connection reset"} {
		permanent := errors.New(msg)
		result := RetryWithBackoff(context.Background(), fastConfig(), func() error { return permanent })
		assert.False(t, result.Success)
		assert.Equal(t, 1, result.Attempts, msg)
		assert.Same(t, permanent, result.LastError)
	}
}

func TestRetryWithBackoff_CustomRetryable(t *testing.T) {
	config := fastConfig()
	config.Retryable = func(error) bool { return true }
	failure := errors.New("HTTP 403 Forbidden")

	result := RetryWithBackoff(context.Background(), config, func() error { return failure })
	assert.False(t, result.Success)
	assert.Equal(t, config.MaxRetries+1, result.Attempts)
	assert.Same(t, failure, result.LastError)
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	config := fastConfig()
	config.MaxRetries = 5
	config.BaseDelay = 200 * time.Millisecond
	config.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result := RetryWithBackoff(ctx, config, func() error { return After(0, errors.New("rate limited")) })
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.LastError, context.DeadlineExceeded)
	assert.LessOrEqual(t, result.Attempts, 2)
}

func TestRateLimitRetryConfig_OnlyRetriesDelayErrors(t *testing.T) {
	config := RateLimitRetryConfig()
	config.LogRetries = false

	calls := 0
	result := RetryWithBackoff(context.Background(), config, func() error {
		calls++
		return errors.New("503 service unavailable")
	})
	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)

	calls = 0
	start := time.Now()
	result = RetryWithBackoff(context.Background(), config, func() error {
		calls++
		if calls == 1 {
			return After(20*time.Millisecond, errors.New("rate limited"))
		}
		return nil
	})
	require.True(t, result.Success)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCalculateDelay(t *testing.T) {
	config := RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2.0}
	assert.Equal(t, time.Second, calculateDelay(config, 0))
	assert.Equal(t, 2*time.Second, calculateDelay(config, 1))
	assert.Equal(t, 4*time.Second, calculateDelay(config, 2))
	assert.Equal(t, 10*time.Second, calculateDelay(config, 10))

	config.Jitter = true
	d := calculateDelay(config, 1)
	assert.InDelta(t, float64(2*time.Second), float64(d), float64(200*time.Millisecond))
}

func TestIsDelayError(t *testing.T) {
	assert.True(t, IsDelayError(After(time.Second, errors.New("slow down"))))
	assert.True(t, IsDelayError(fmt.Errorf("send: %w", After(time.Second, errors.New("slow down")))))
	assert.False(t, IsDelayError(nil))
	assert.False(t, IsDelayError(errors.New("HTTP 429 Too Many Requests")))
}
