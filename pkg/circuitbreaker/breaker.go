// Package circuitbreaker guards calls to shared dependencies with
// sony/gobreaker and exports the breaker state as Prometheus metrics.
package circuitbreaker

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"coachflow/internal/config"
	"coachflow/pkg/metrics"
)

const (
	defaultMaxRequests  = 3
	defaultMinRequests  = 3
	defaultFailureRatio = 0.5
)

type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a breaker named name. Zero settings fall back to gobreaker's
// own defaults, except the trip rule which needs defaultMinRequests requests
// at defaultFailureRatio failures.
func New(name string, cfg config.CircuitBreakerConfig) *Breaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = defaultMinRequests
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = defaultFailureRatio
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = defaultMaxRequests
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= ratio
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			setState(name, to)
		},
	})
	setState(name, cb.State())

	return &Breaker{cb: cb}
}

func (b *Breaker) Name() string { return b.cb.Name() }

func (b *Breaker) IsOpen() bool { return b.cb.State() == gobreaker.StateOpen }

// Call runs fn through b and counts the outcome. A nil b calls fn directly.
// A cancelled ctx fails fast without counting against the breaker.
func Call[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if b == nil {
		return fn()
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})

	metrics.CircuitBreakerRequests.WithLabelValues(b.Name(), b.cb.State().String()).Inc()
	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues(b.Name()).Inc()
		if b.IsOpen() {
			return zero, fmt.Errorf("circuit breaker is open for %s: %w", b.Name(), err)
		}
		return zero, err
	}

	if result == nil {
		return zero, nil
	}
	return result.(T), nil
}

func setState(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
}
