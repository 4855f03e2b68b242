// Package retry wraps cenkalti/backoff with the two loops the services need:
// a bounded exponential loop around message handling and an unbounded
// constant-interval loop around consumer supervision.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent marks an error that no amount of retrying will fix, such as a
// payload that does not decode.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }

func (p *Permanent) Unwrap() error { return p.Err }

// NewFatalError wraps err as Permanent. A nil err stays nil.
func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// IsFatal reports whether err, or anything it wraps, is Permanent.
func IsFatal(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// Notify is called between attempts with the attempt that just failed.
type Notify func(attempt int, err error, nextDelay time.Duration)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Zero disables the wall-clock cap.
	MaxElapsedTime time.Duration
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = p.MaxElapsedTime
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.attempts()-1)), ctx)
}

// Do runs fn until it succeeds, returns a Permanent error, exhausts the
// policy, or ctx is done. The last error is returned.
func Do(ctx context.Context, policy Policy, fn func() error, onRetry Notify) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil && IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.RetryNotify(operation, policy.backOff(ctx), notifier(&attempt, onRetry))
}

// Forever re-runs fn after a fixed interval until it returns nil, returns a
// Permanent error, or ctx is done.
func Forever(ctx context.Context, interval time.Duration, fn func(ctx context.Context) error, onRetry Notify) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case IsFatal(err):
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.RetryNotify(operation, b, notifier(&attempt, onRetry))
}

func notifier(attempt *int, onRetry Notify) backoff.Notify {
	return func(err error, next time.Duration) {
		if onRetry != nil {
			onRetry(*attempt, err, next)
		}
	}
}
