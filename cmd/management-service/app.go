package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"coachflow/internal/config"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/internal/management"
	"coachflow/pkg/bootstrap"
	"coachflow/pkg/health"
	"coachflow/pkg/logging"
	"coachflow/pkg/metrics"
	"coachflow/pkg/middleware"
	"coachflow/pkg/ratelimit"
	"coachflow/pkg/tracing"
)

type App struct {
	config *config.Config
	logger logger.Logger
	dbs    *bootstrap.Databases
	tracer *tracing.Provider
	server *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceManagement)
	}
	return &App{
		config: cfg,
		logger: log,
		dbs:    bootstrap.NewDatabases(cfg.Database, log),
	}
}

// Initialize connects MongoDB, which holds the rules, and PostgreSQL for
// the audit trail. Without PostgreSQL the API runs unaudited.
func (a *App) Initialize(ctx context.Context) error {
	if err := a.dbs.ConnectMongo(ctx); err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	if a.config.Database.Postgres.Host != "" {
		if err := a.dbs.ConnectPostgres(ctx); err != nil {
			a.logger.WarnwCtx(logging.WithServiceName(ctx, constants.ServiceManagement),
				"PostgreSQL connection failed, audit log disabled", "error", err)
		}
	}

	tp, err := tracing.Init(a.config.Tracing, constants.ServiceManagement)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tp

	router, err := a.newRouter(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
	}
	return nil
}

func (a *App) newRouter(ctx context.Context) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceManagement))
	}
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(a.logger),
		middleware.RecoveryMiddleware(a.logger),
	)

	if rl := a.config.Management.RateLimit; rl.Enabled {
		limits := ratelimit.FromConfig(rl)
		router.Use(ratelimit.RateLimitMiddleware(ctx, limits))
		a.logger.InfowCtx(ctx, "Rate limiting enabled", "rps", limits.RPS, "burst", limits.Burst)
	}

	validator, err := management.NewValidator()
	if err != nil {
		return nil, err
	}

	repo := management.NewRepository(a.dbs.MongoDatabase(), a.config.Database.MongoDB.Collections.Rules)
	opts := []management.ServiceOption{management.WithLogger(a.logger)}
	if a.dbs.Postgres != nil {
		opts = append(opts, management.WithAudit(management.NewAuditLogger(a.dbs.Postgres)))
	}
	management.NewHandler(management.NewService(repo, validator, opts...), a.logger).RegisterRoutes(router)

	metrics.RegisterManagementMetrics()
	metrics.RegisterDatabaseMetrics()

	checks := health.NewCheckerRegistry()
	checks.Register(health.NewMongoDBChecker(a.dbs.Mongo))
	if a.dbs.Postgres != nil {
		checks.RegisterOptional(health.NewPostgreSQLChecker(a.dbs.Postgres))
	}

	router.GET("/health", gin.WrapF(checks.Handler()))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return router, nil
}

// Run serves until ctx is done or the listener fails, then releases every
// resource.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}
	if err := a.tracer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
	}
	if err := a.dbs.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown errors: %w", err)
	}
	a.logger.InfowCtx(shutdownCtx, "Server exited successfully")
	return nil
}
