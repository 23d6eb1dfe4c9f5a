package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_RetryWithExponentialBackoff_Success_NoRetries(t *testing.T) {
	ctx := context.Background()
	callCount := 0

	fn := func(_ context.Context) error {
		callCount++
		return nil
	}

	metrics, err := RetryWithExponentialBackoff(ctx, fn)

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, 1, metrics.Attempts)
	assert.Equal(t, time.Duration(0), metrics.TotalDelay)
	assert.False(t, metrics.RetriesExhausted)
}

func Test_RetryWithExponentialBackoff_RetriesOnConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	callCount := 0

	fn := func(_ context.Context) error {
		callCount++
		if callCount < 3 {
			return ErrConcurrencyConflict
		}
		return nil
	}

	metrics, err := RetryWithExponentialBackoff(ctx, fn, WithBaseDelay(time.Millisecond))

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 3, metrics.Attempts)
	assert.Greater(t, metrics.TotalDelay, time.Duration(0))
}

func Test_RetryWithExponentialBackoff_PermanentErrorFailsFast(t *testing.T) {
	ctx := context.Background()
	callCount := 0
	permanent := errors.New("schema broken")

	fn := func(_ context.Context) error {
		callCount++
		return permanent
	}

	metrics, err := RetryWithExponentialBackoff(ctx, fn)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, 1, metrics.Attempts)
	assert.False(t, metrics.RetriesExhausted)
}

func Test_RetryWithExponentialBackoff_ExhaustsMaxAttempts(t *testing.T) {
	ctx := context.Background()
	callCount := 0

	fn := func(_ context.Context) error {
		callCount++
		return ErrConcurrencyConflict
	}

	metrics, err := RetryWithExponentialBackoff(ctx, fn,
		WithMaxAttempts(3),
		WithBaseDelay(time.Millisecond),
	)

	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 3, metrics.Attempts)
	assert.True(t, metrics.RetriesExhausted)
}

func Test_RetryWithExponentialBackoff_CustomRetryableCheck(t *testing.T) {
	ctx := context.Background()
	callCount := 0
	transient := errors.New("connection reset")

	fn := func(_ context.Context) error {
		callCount++
		if callCount < 2 {
			return transient
		}
		return nil
	}

	metrics, err := RetryWithExponentialBackoff(ctx, fn,
		WithBaseDelay(time.Millisecond),
		WithRetryableCheck(func(err error) bool { return errors.Is(err, transient) }),
	)

	assert.NoError(t, err)
	assert.Equal(t, 2, metrics.Attempts)
}

func Test_RetryWithExponentialBackoff_CanceledContextStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	fn := func(_ context.Context) error {
		cancel()
		return ErrConcurrencyConflict
	}

	_, err := RetryWithExponentialBackoff(ctx, fn, WithBaseDelay(time.Minute))

	assert.ErrorIs(t, err, context.Canceled)
}

func Test_RetryWithExponentialBackoff_InvalidOptions(t *testing.T) {
	ctx := context.Background()
	fn := func(_ context.Context) error { return nil }

	_, err := RetryWithExponentialBackoff(ctx, fn, WithMaxAttempts(0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = RetryWithExponentialBackoff(ctx, fn, WithBaseDelay(-1*time.Second))
	assert.ErrorIs(t, err, ErrNegativeBaseDelay)

	_, err = RetryWithExponentialBackoff(ctx, fn, WithJitterFactor(1.5))
	assert.ErrorIs(t, err, ErrInvalidJitterFactor)

	_, err = RetryWithExponentialBackoff(ctx, fn, WithRetryableCheck(nil))
	assert.ErrorIs(t, err, ErrNilRetryableCheck)
}
