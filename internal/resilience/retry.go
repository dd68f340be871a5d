package resilience

import (
	"context"
	"time"

	"storefront/backend/internal/apperr"
)

const (
	maxRetriesCeiling = 5
	minBaseDelay      = 50 * time.Millisecond
	maxBaseDelay      = 5 * time.Second
)

// RetryOptions controls WithRetries. ShouldRetry gates whether a failure is
// worth another attempt; it defaults to apperr.IsRetryable.
type RetryOptions struct {
	MaxRetries  int
	BaseDelay   time.Duration
	ShouldRetry func(error) bool
}

// ClampRetries bounds a configured retry count to [0, 5].
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > maxRetriesCeiling {
		return maxRetriesCeiling
	}
	return n
}

// ClampDelay bounds a configured base delay to [50ms, 5s].
func ClampDelay(d time.Duration) time.Duration {
	if d < minBaseDelay {
		return minBaseDelay
	}
	if d > maxBaseDelay {
		return maxBaseDelay
	}
	return d
}

// WithTimeout races fn against a deadline. If the deadline elapses first a
// retryable timeout error is returned and fn is left running detached: the
// caller stops waiting but the operation is not cancelled, so a slow call can
// still mutate state after the caller has moved on.
func WithTimeout[T any](ctx context.Context, d time.Duration, code, message string, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := fn(ctx)
		done <- outcome{val: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.val, out.err
	case <-timer.C:
		var zero T
		return zero, apperr.Timeout(code, message)
	}
}

// WithRetries attempts fn up to MaxRetries+1 times, sleeping
// BaseDelay * 2^attempt between failures (no jitter). A failure that
// ShouldRetry rejects is returned immediately. The sleep respects ctx
// cancellation.
func WithRetries[T any](ctx context.Context, opts RetryOptions, fn func(context.Context) (T, error)) (T, error) {
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = apperr.IsRetryable
	}

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		if attempt >= opts.MaxRetries || !shouldRetry(err) {
			return zero, err
		}

		delay := opts.BaseDelay << attempt
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
