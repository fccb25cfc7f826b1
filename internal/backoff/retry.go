package backoff

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNonRetryable wraps an error that must not be retried regardless of
// remaining attempts.
var ErrNonRetryable = errors.New("non-retryable")

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrNonRetryable, err)
}

// transientMarkers are substrings identifying provider errors worth retrying.
var transientMarkers = []string{
	"resource_exhausted",
	"unavailable",
	"deadline_exceeded",
	"internal",
	"rate limit",
	"timeout",
	"econnreset",
	"socket hang up",
	"overloaded",
}

// IsTransient classifies an error as retryable. Context cancellation and
// errors marked Permanent are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNonRetryable) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Sleep blocks for the policy's delay at the given attempt, or until the
// context is done, whichever comes first.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	timer := time.NewTimer(p.Compute(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn up to maxAttempts times, sleeping per the policy between
// attempts. It stops early on success, on a non-transient error, or when the
// context is cancelled. The last error is returned on exhaustion.
func Retry[T any](ctx context.Context, p Policy, maxAttempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == maxAttempts {
			break
		}
		if err := Sleep(ctx, p, attempt); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}
