// Package retry runs an operation a bounded number of times with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults applied to zero Policy fields.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultFactor      = 2.0
)

// Timer schedules the wait between attempts.
type Timer = backoff.Timer

// Policy shapes one bounded retry loop.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// Factor multiplies the delay after every retry.
	Factor float64
	// Timer replaces the wall clock timer; used by tests.
	Timer Timer
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt, maxAttempts int, delay time.Duration, err error)
}

// ExhaustedError is returned when every attempt failed. It unwraps to the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Attempts reports how many calls were made before err was returned, or 0 when unknown.
func Attempts(err error) int {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return 0
}

// Delays returns the waits the policy schedules between attempts.
func (p Policy) Delays() []time.Duration {
	p = p.withDefaults()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 0; i < p.MaxAttempts-1; i++ {
		out = append(out, time.Duration(float64(p.BaseDelay)*math.Pow(p.Factor, float64(i))))
	}
	return out
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Factor < 1 {
		p.Factor = DefaultFactor
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = p.Factor
	exp.MaxInterval = time.Duration(math.MaxInt64)
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Attempt calls fn until it succeeds, returns a Permanent error, or the policy's attempts run out.
// No delay follows the final attempt. A failed run returns *ExhaustedError wrapping the last error.
func Attempt[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	calls := 0

	op := func() (T, error) {
		calls++
		return fn(ctx)
	}
	notify := func(err error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(calls, p.MaxAttempts, delay, err)
		}
	}

	var (
		res T
		err error
	)
	if p.Timer != nil {
		res, err = backoff.RetryNotifyWithTimerAndData(op, p.backOff(ctx), notify, p.Timer)
	} else {
		res, err = backoff.RetryNotifyWithData(op, p.backOff(ctx), notify)
	}
	if err != nil {
		var zero T
		return zero, &ExhaustedError{Attempts: calls, Err: err}
	}
	return res, nil
}
