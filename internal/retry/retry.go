// Package retry runs an operation again after transient failures, waiting an
// exponentially growing, jittered delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxJitter   = time.Second
)

// StatusError carries the HTTP status of a failed upstream call so the
// retry predicate can classify it.
type StatusError struct {
	Code    int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }

// RetryableStatus reports whether an HTTP status is worth retrying:
// rate limiting and server errors are, everything else is not.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// IsRetryable is the default predicate. Only a StatusError with a retryable
// code is retried.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return RetryableStatus(se.Code)
	}
	return false
}

// Policy describes how many times to try and how long to wait in between.
// The zero value of each field falls back to its default.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxJitter   time.Duration

	// Retryable decides whether an error is transient. Defaults to IsRetryable.
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter returns a random duration in [0, max). Tests replace it for determinism.
	Jitter func(max time.Duration) time.Duration

	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the policy used for model calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		MaxJitter:   DefaultMaxJitter,
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Delay returns the wait before the retry that follows the given failed
// attempt (1-based), excluding jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}
	return time.Duration(float64(base) * math.Pow(mult, float64(attempt-1)))
}

// Budget is the longest DoValue can run when each attempt is cut off after
// attemptTimeout and every wait draws the full jitter.
func (p Policy) Budget(attemptTimeout time.Duration) time.Duration {
	n := p.MaxAttempts
	if n <= 0 {
		n = DefaultMaxAttempts
	}
	total := time.Duration(n) * attemptTimeout
	for attempt := 1; attempt < n; attempt++ {
		total += p.Delay(attempt)
		if p.MaxJitter > 0 {
			total += p.MaxJitter
		}
	}
	return total
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = randomJitter
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.MaxJitter > 0 {
			delay += jitter(p.MaxJitter)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry: interrupted after attempt %d: %w", attempt, errors.Join(err, lastErr))
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
