package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/toolhive-imagegen-server/internal/app/storage/auth"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/state"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
	dbstore "github.com/stacklok/toolhive-imagegen-server/internal/store/database"
)

// DefaultConnectTimeout bounds the initial reachability check of the pool.
const DefaultConnectTimeout = 30 * time.Second

// DatabaseFactory creates PostgreSQL-backed storage components over one pool.
type DatabaseFactory struct {
	config *config.Config
	pool   *pgxpool.Pool
}

var _ Factory = (*DatabaseFactory)(nil)

// DatabaseFactoryOption configures a DatabaseFactory.
type DatabaseFactoryOption func(*databaseFactoryOptions)

type databaseFactoryOptions struct {
	connectTimeout time.Duration
}

// WithConnectTimeout bounds how long the factory retries the initial ping.
func WithConnectTimeout(d time.Duration) DatabaseFactoryOption {
	return func(o *databaseFactoryOptions) {
		o.connectTimeout = d
	}
}

// NewDatabaseFactory creates the connection pool and waits, with exponential
// backoff, until the database answers a ping.
func NewDatabaseFactory(ctx context.Context, cfg *config.Config, opts ...DatabaseFactoryOption) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for database storage type")
	}

	o := databaseFactoryOptions{connectTimeout: DefaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	slog.Info("Creating database-backed storage factory",
		"host", cfg.Database.Host,
		"database", cfg.Database.Database)

	pool, err := buildConnectionPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := waitForDatabase(ctx, pool, o.connectTimeout); err != nil {
		pool.Close()
		return nil, err
	}

	return &DatabaseFactory{config: cfg, pool: pool}, nil
}

// CreateStore creates a PostgreSQL generation store.
func (d *DatabaseFactory) CreateStore(_ context.Context) (store.Store, error) {
	slog.Debug("Creating database-backed generation store")
	return dbstore.New(d.pool), nil
}

// CreateStateService creates a PostgreSQL sync state service.
func (d *DatabaseFactory) CreateStateService(_ context.Context) (state.StateService, error) {
	return state.NewStateService(d.config, d.pool)
}

// Cleanup closes the connection pool.
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}

func buildConnectionPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	connStr, err := cfg.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to build database connection string: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.GetMaxOpenConns()
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	poolConfig.MaxConnLifetime = cfg.GetConnMaxLifetime()

	if cfg.DynamicAuth != nil {
		beforeConnect, err := auth.NewDynamicAuth(ctx, cfg, cfg.User)
		if err != nil {
			return nil, fmt.Errorf("failed to configure dynamic database auth: %w", err)
		}
		poolConfig.BeforeConnect = beforeConnect
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	return pool, nil
}

func waitForDatabase(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Database not reachable yet", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("database not reachable after %s: %w", timeout, err)
	}
	slog.Info("Database connection pool ready")
	return nil
}
