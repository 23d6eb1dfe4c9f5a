package ledger

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")

	// ErrNilRetryableCheck is returned when a nil retryable check is provided.
	ErrNilRetryableCheck = errors.New("retryable check must not be nil")
)

// RetryableFunc represents a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// RetryMetrics captures execution metadata of a retried operation for observability.
type RetryMetrics struct {
	// Attempts is the total number of attempts made (1 for no retries, 2+ for retries).
	Attempts int

	// TotalDelay is the cumulative time spent in backoff delays, excluding execution time.
	TotalDelay time.Duration

	// RetriesExhausted indicates whether max attempts were reached with a retryable error.
	RetriesExhausted bool
}

// retryConfig holds the configuration for exponential backoff retry logic.
type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
	isRetryable  func(error) bool
}

// RetryOption configures retry behavior using the functional options pattern.
type RetryOption func(*retryConfig) error

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(attempts int) RetryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		config.maxAttempts = attempts

		return nil
	}
}

// WithBaseDelay sets the base delay for exponential backoff.
// Actual delays: baseDelay, baseDelay*2, baseDelay*4, baseDelay*8, etc.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		config.baseDelay = delay

		return nil
	}
}

// WithJitterFactor sets the jitter factor to prevent thundering herd problems.
// Jitter is added as a percentage of the calculated backoff delay.
// Valid range: 0.0 (no jitter) to 1.0 (100% jitter).
func WithJitterFactor(factor float64) RetryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		config.jitterFactor = factor

		return nil
	}
}

// WithRetryableCheck replaces the default error classifier.
// By default only ErrConcurrencyConflict is retried - all other errors fail fast.
func WithRetryableCheck(isRetryable func(error) bool) RetryOption {
	return func(config *retryConfig) error {
		if isRetryable == nil {
			return ErrNilRetryableCheck
		}

		config.isRetryable = isRetryable

		return nil
	}
}

// RetryWithExponentialBackoff executes the provided function with exponential
// backoff retry logic, retrying only on retryable errors up to maxAttempts times.
//
// Retry schedule (default): 0 ms, 10 ms, 20 ms, 40 ms, 80 ms (with 30% jitter).
// Use case: optimistic concurrency conflicts on a member's balance row under load.
//
// A context.DeadlineExceeded is NOT retryable - retrying timeouts during
// overload creates cascade failures; timeout errors should fail fast.
func RetryWithExponentialBackoff(
	ctx context.Context,
	fn RetryableFunc,
	options ...RetryOption,
) (RetryMetrics, error) {

	config := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
		isRetryable:  func(err error) bool { return errors.Is(err, ErrConcurrencyConflict) },
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return RetryMetrics{}, err
		}
	}

	metrics := RetryMetrics{}
	var lastErr error

	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: baseDelay * 2^(attempt-1)
			delay := config.baseDelay * time.Duration(1<<(attempt-1))

			// Add jitter to prevent thundering herd
			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec // math/rand is sufficient for jitter
			backoffDelay := delay + time.Duration(jitter)
			metrics.TotalDelay += backoffDelay

			select {
			case <-time.After(backoffDelay):
				// Continue with retry
			case <-ctx.Done():
				return metrics, ctx.Err()
			}
		}

		metrics.Attempts = attempt + 1

		lastErr = fn(ctx)
		if lastErr == nil {
			return metrics, nil
		}

		if !config.isRetryable(lastErr) {
			return metrics, lastErr // Permanent failure
		}
	}

	metrics.RetriesExhausted = true

	return metrics, lastErr // Max attempts reached
}
