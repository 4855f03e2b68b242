package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"coachflow/internal/config"
	"coachflow/internal/logger"
	"coachflow/pkg/migrations"
)

// ErrNotConfigured is returned by the Connect methods when the store has
// no settings. Callers decide whether that is fatal.
var ErrNotConfigured = errors.New("not configured")

// Databases owns the store clients a service opens. A nil field means the
// store was never connected.
type Databases struct {
	Mongo    *mongo.Client
	Postgres *sql.DB
	Redis    *redis.Client

	cfg config.DatabaseConfig
	log logger.Logger
}

func NewDatabases(cfg config.DatabaseConfig, log logger.Logger) *Databases {
	return &Databases{cfg: cfg, log: log}
}

// ConnectMongo connects and pings MongoDB, then ensures the rule indexes
// when migrations are enabled.
func (d *Databases) ConnectMongo(ctx context.Context) error {
	if d.cfg.MongoDB.URI == "" {
		return fmt.Errorf("mongodb: %w", ErrNotConfigured)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.cfg.MongoDB.URI))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if d.cfg.RunMigrations {
		if err := migrations.EnsureRuleIndexes(ctx, client.Database(d.cfg.MongoDB.Database), d.cfg.MongoDB.Collections.Rules); err != nil {
			_ = client.Disconnect(ctx)
			return err
		}
	}

	d.Mongo = client
	d.log.Infow("MongoDB connected", "database", d.cfg.MongoDB.Database)
	return nil
}

// MongoDatabase returns the configured database handle. ConnectMongo must
// have succeeded.
func (d *Databases) MongoDatabase() *mongo.Database {
	return d.Mongo.Database(d.cfg.MongoDB.Database)
}

func (d *Databases) ConnectPostgres(ctx context.Context) error {
	if d.cfg.Postgres.Host == "" {
		return fmt.Errorf("postgres: %w", ErrNotConfigured)
	}

	db, err := sql.Open("postgres", PostgresDSN(d.cfg.Postgres))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if d.cfg.RunMigrations {
		if err := migrations.MigratePostgres(db); err != nil {
			_ = db.Close()
			return err
		}
	}

	d.Postgres = db
	d.log.Infow("PostgreSQL connected", "host", d.cfg.Postgres.Host, "dbname", d.cfg.Postgres.DBName)
	return nil
}

func (d *Databases) ConnectRedis(ctx context.Context) error {
	if d.cfg.Redis.Host == "" {
		return fmt.Errorf("redis: %w", ErrNotConfigured)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", d.cfg.Redis.Host, d.cfg.Redis.Port),
		Password: d.cfg.Redis.Password,
		DB:       d.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	d.Redis = rdb
	d.log.Infow("Redis connected", "addr", rdb.Options().Addr)
	return nil
}

// Close releases every connected client and joins the failures.
func (d *Databases) Close(ctx context.Context) error {
	var errs []error
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if d.Postgres != nil {
		if err := d.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}
	if d.Mongo != nil {
		if err := d.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}
	return errors.Join(errs...)
}

// PostgresDSN builds a lib/pq connection URL with escaped credentials.
func PostgresDSN(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}
