// Package health aggregates dependency probes into the /health response.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 5 * time.Second

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type entry struct {
	checker  Checker
	optional bool
}

// CheckerRegistry aggregates dependency checks. A failing required check
// makes the service unhealthy; a failing optional one only degrades it.
type CheckerRegistry struct {
	entries []entry
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(c Checker) {
	r.entries = append(r.entries, entry{checker: c})
}

func (r *CheckerRegistry) RegisterOptional(c Checker) {
	r.entries = append(r.entries, entry{checker: c, optional: true})
}

// Check probes every dependency concurrently, each under checkTimeout.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(r.entries))
		overall = StatusHealthy
	)

	var g errgroup.Group
	for _, e := range r.entries {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			err := e.checker.Check(checkCtx)

			res := CheckResult{Status: StatusHealthy, Timestamp: time.Now()}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
			case e.optional:
				res.Status, res.Message = StatusDegraded, err.Error()
				if overall == StatusHealthy {
					overall = StatusDegraded
				}
			default:
				res.Status, res.Message = StatusUnhealthy, err.Error()
				overall = StatusUnhealthy
			}
			results[e.checker.Name()] = res
			return nil
		})
	}
	_ = g.Wait()

	return Health{Status: overall, Timestamp: time.Now(), Checks: results}
}

// Handler serves the aggregated health as JSON, with 503 when unhealthy.
func (r *CheckerRegistry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		h := r.Check(req.Context())
		code := http.StatusOK
		if h.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	}
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcChecker) Name() string { return c.name }

func (c funcChecker) Check(ctx context.Context) error { return c.fn(ctx) }

// NewFuncChecker adapts a plain function, for dependencies without a client
// handle such as the broker session.
func NewFuncChecker(name string, fn func(ctx context.Context) error) Checker {
	return funcChecker{name: name, fn: fn}
}

func pingChecker(name string, ping func(ctx context.Context) error) Checker {
	return funcChecker{name: name, fn: func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
		return nil
	}}
}

func NewPostgreSQLChecker(db *sql.DB) Checker {
	return pingChecker("postgresql", db.PingContext)
}

func NewRedisChecker(client *redis.Client) Checker {
	return pingChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

func NewMongoDBChecker(client *mongo.Client) Checker {
	return pingChecker("mongodb", func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	})
}
