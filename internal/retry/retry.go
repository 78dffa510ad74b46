// Package retry wraps fallible calls in a bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy describes how often and how patiently a call is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable never retries.
	Retryable func(error) bool

	Log logrus.FieldLogger
}

// Default tries three times, waiting 500ms and then 1s.
var Default = Policy{
	Attempts:     3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Delay returns the wait before attempt n+1, n starting at 1.
func (p Policy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	wait := time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(n-1)))
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}

// Do calls fn until it succeeds, returns a non-retryable error, the context is done,
// or the attempts run out.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		res, err := fn(ctx, attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}

		if attempt == attempts {
			break
		}

		wait := p.Delay(attempt)
		if p.Log != nil {
			p.Log.WithFields(logrus.Fields{
				"attempt": attempt,
				"wait":    wait,
			}).WithError(err).Warn("retrying")
		}

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}
