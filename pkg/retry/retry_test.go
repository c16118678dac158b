package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudflux/orchestrator/pkg/errors"
)

func TestRetryerSucceedsOnFirstAttempt(t *testing.T) {
	retryer := New(DefaultConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryerRetriesTransientError(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = 5 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.CodeTransient, "connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryerDoesNotRetryNonRetryableError(t *testing.T) {
	retryer := New(DefaultConfig())

	attempts := 0
	notFound := errors.New(errors.CodeNotFound, "missing object")

	err := retryer.Do(func() error {
		attempts++
		return notFound
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryerStopsAtMaxAttempts(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 5 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.New(errors.CodeTransient, "always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryerGrantsOneExtraAttemptOnQuotaExceeded(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 2
	config.InitialDelay = 1 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.CodeQuotaExceeded, "rate limited").WithComponent("worker")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryerContextCancellationStopsEarly(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = 100 * time.Millisecond
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New(errors.CodeTransient, "still failing")
	})

	require.Error(t, err)
	assert.Less(t, attempts, 10)
}

func TestRetryerExponentialBackoffDelaysGrow(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 4
	config.InitialDelay = 50 * time.Millisecond
	config.MaxDelay = 1 * time.Second
	config.Multiplier = 2.0
	config.Jitter = false

	var delays []time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}
	retryer := New(config)

	_ = retryer.Do(func() error {
		return errors.New(errors.CodeTransient, "always fails")
	})

	require.Len(t, delays, 3)
	assert.Equal(t, 50*time.Millisecond, delays[0])
	assert.Equal(t, 100*time.Millisecond, delays[1])
	assert.Equal(t, 200*time.Millisecond, delays[2])
}

func TestRetryerMaxDelayCap(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = 1 * time.Second
	config.MaxDelay = 2 * time.Second
	config.Multiplier = 2.0
	config.Jitter = false

	var maxSeen time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		if delay > maxSeen {
			maxSeen = delay
		}
	}
	retryer := New(config)

	_ = retryer.Do(func() error {
		return errors.New(errors.CodeTransient, "always fails")
	})

	assert.LessOrEqual(t, maxSeen, config.MaxDelay)
}

func TestWithMaxAttemptsDoesNotMutateOriginal(t *testing.T) {
	original := New(DefaultConfig())
	modified := original.WithMaxAttempts(10)

	assert.Equal(t, 10, modified.config.MaxAttempts)
	assert.NotEqual(t, 10, original.config.MaxAttempts)
}
