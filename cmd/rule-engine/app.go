package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"coachflow/internal/automation"
	"coachflow/internal/config"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/internal/scheduler"
	"coachflow/pkg/bootstrap"
	"coachflow/pkg/cel"
	"coachflow/pkg/health"
	"coachflow/pkg/logging"
	"coachflow/pkg/metrics"
	"coachflow/pkg/tracing"
)

// App is one rule-engine session: connections, consumer and HTTP server.
// A lost dependency ends the session and Supervise builds a new App.
type App struct {
	*bootstrap.Base
	dbs            *bootstrap.Databases
	delayed        scheduler.Store
	engine         *automation.Engine
	tracerProvider *tracing.Provider
	server         *http.Server
	consuming      atomic.Bool
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceRuleEngine)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
		dbs:  bootstrap.NewDatabases(cfg.Database, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.dbs.ConnectMongo(ctx); err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	if a.Config.Broker.Type == constants.BrokerTypeKafka {
		if err := a.initScheduler(ctx); err != nil {
			return fmt.Errorf("failed to initialize scheduler: %w", err)
		}
	}

	if a.Config.Engine.DispatchLog {
		if err := a.dbs.ConnectPostgres(ctx); err != nil {
			initCtx := logging.WithServiceName(ctx, constants.ServiceRuleEngine)
			a.Logger.WarnwCtx(initCtx, "PostgreSQL initialization failed, dispatch log disabled",
				"error", err,
			)
		}
	}

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceRuleEngine)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterEngineMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterDatabaseMetrics()
	if a.delayed != nil {
		metrics.RegisterSchedulerMetrics()
	}
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.InitBroker(ctx, constants.ServiceRuleEngine, a.delayed); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initEngine(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	a.initHTTPServer()
	return nil
}

// initScheduler backs delayed actions with Redis. Only the kafka broker
// needs it; RabbitMQ delays through its delayed-message exchange.
func (a *App) initScheduler(ctx context.Context) error {
	if err := a.dbs.ConnectRedis(ctx); err != nil {
		return err
	}
	a.delayed = scheduler.NewRedisStore(a.dbs.Redis, a.Config.Scheduler.Key,
		scheduler.WithStoreLogger(a.Logger.With("component", "scheduler")))
	return nil
}

func (a *App) initEngine() error {
	mongoCfg := a.Config.Database.MongoDB
	db := a.dbs.MongoDatabase()

	store := automation.NewCircuitBreakerEntityStore(
		automation.NewMongoEntityStore(db, mongoCfg.Collections, constants.ServiceRuleEngine),
		a.Config.CircuitBreaker,
	)
	rules := automation.NewMongoRuleRepository(db, mongoCfg.Collections.Rules, constants.ServiceRuleEngine,
		a.Logger.With("component", "rules"))

	var evaluator automation.ConditionEvaluator
	if a.Config.Engine.EvaluateConditions {
		celEvaluator, err := cel.NewEvaluator()
		if err != nil {
			return err
		}
		evaluator = celEvaluator
	}

	opts := []automation.DispatcherOption{
		automation.WithActionDelaySeconds(a.Config.Engine.HonorActionDelaySeconds),
		automation.WithParallelDispatch(a.Config.Engine.ParallelDispatch),
	}
	if a.dbs.Postgres != nil {
		opts = append(opts, automation.WithRecorder(automation.NewPostgresDispatchLog(a.dbs.Postgres)))
	}

	a.engine = automation.NewEngine(
		automation.NewResolver(store),
		automation.NewMatcher(rules, evaluator, a.Logger.With("component", "matcher")),
		automation.NewDispatcher(a.Producer, a.Logger.With("component", "dispatcher"), opts...),
		a.Logger,
	)
	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	registry := health.NewCheckerRegistry()
	registry.Register(health.NewMongoDBChecker(a.dbs.Mongo))
	registry.Register(health.NewFuncChecker("broker", func(context.Context) error {
		if !a.consuming.Load() {
			return errors.New("consumer not running")
		}
		return nil
	}))
	if a.dbs.Redis != nil {
		registry.Register(health.NewRedisChecker(a.dbs.Redis))
	}
	if a.dbs.Postgres != nil {
		registry.RegisterOptional(health.NewPostgreSQLChecker(a.dbs.Postgres))
	}

	mux.Handle("/health", registry.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      mux,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Run blocks until ctx is done or any part of the session fails.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.Broker.Scheduled != nil && a.delayed != nil {
		poller := scheduler.NewPoller(a.delayed, a.Broker.Scheduled, a.Logger.With("component", "scheduler"),
			a.Config.Scheduler.PollInterval, a.Config.Scheduler.BatchSize)
		g.Go(func() error {
			return poller.Run(gCtx)
		})
	}

	g.Go(func() error {
		a.consuming.Store(true)
		defer a.consuming.Store(false)
		return a.Consumer.Consume(gCtx, a.engine.Handle)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceRuleEngine)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down rule engine")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
			}
		}

		if err := a.dbs.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
