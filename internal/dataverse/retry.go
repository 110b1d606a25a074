package dataverse

import (
	"context"
	"log/slog"
	"math"
	"time"
)

const (
	// Retry configuration for Dataverse requests
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second
	backoffFactor  = 2.0
)

// retryWithBackoff executes an operation with exponential backoff retry logic.
// It retries transient errors up to maxRetries times with exponentially
// increasing delays. A Retry-After hint from the server (carried on the
// RemoteError by the caller) takes precedence over the computed backoff.
func retryWithBackoff[T any](ctx context.Context, operation string, fn func() (T, retryHint, error)) (T, error) {
	var result T
	var lastErr error
	var hint retryHint

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, hint, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		if !isRetryableError(lastErr) {
			return result, lastErr
		}

		// Don't sleep after the last attempt
		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(float64(initialBackoff) * math.Pow(backoffFactor, float64(attempt)))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if hint.retryAfter > 0 {
			backoff = hint.retryAfter
		}

		slog.Warn("Dataverse request failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", maxRetries+1,
			"backoff", backoff,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return result, lastErr
}

// retryHint carries server-provided pacing information between attempts.
type retryHint struct {
	retryAfter time.Duration
}

// parseRetryAfter converts a Retry-After header value in seconds to a
// duration, capped so a hostile or clock-skewed server cannot stall the run.
func parseRetryAfter(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	d := time.Duration(seconds) * time.Second
	const maxWait = 30 * time.Second
	if d > maxWait {
		return maxWait
	}
	return d
}
