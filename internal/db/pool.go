package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/energy-sync-worker/internal/config"
)

// Pool is an alias for pgxpool.Pool
type Pool = pgxpool.Pool

// ParseConfig builds the pool configuration. A non-empty token replaces the
// password of the storage URL.
func ParseConfig(storage config.StorageConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(storage.URL)
	if err != nil {
		return nil, fmt.Errorf("[STORAGE] failed to parse storage URL: %w", err)
	}
	if storage.Token != "" {
		poolConfig.ConnConfig.Password = storage.Token
	}
	return poolConfig, nil
}

// NewPool creates a new PostgreSQL connection pool for the time-series store
func NewPool(lc fx.Lifecycle, logger *zap.Logger, storage config.StorageConfig) (*pgxpool.Pool, error) {
	logger.Info("initializing storage connection pool")

	poolConfig, err := ParseConfig(storage)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("[STORAGE] failed to create connection pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("attempting to connect to storage...")
			if err := pool.Ping(ctx); err != nil {
				logger.Error("storage ping failed", zap.Error(err), zap.String("url", maskPassword(storage.URL)))
				return fmt.Errorf("[STORAGE CONNECTION FAILED] cannot reach storage. Please check: 1) Database is running, 2) STORAGE_URL is correct, 3) Network/firewall allows connection. Error: %w", err)
			}
			logger.Info("storage connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			logger.Info("storage connection closed")
			return nil
		},
	})

	return pool, nil
}

// Open creates and pings a pool outside of an fx application
func Open(ctx context.Context, logger *zap.Logger, storage config.StorageConfig) (*pgxpool.Pool, error) {
	poolConfig, err := ParseConfig(storage)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("[STORAGE] failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		logger.Error("storage ping failed", zap.Error(err), zap.String("url", maskPassword(storage.URL)))
		return nil, fmt.Errorf("[STORAGE CONNECTION FAILED] cannot reach storage: %w", err)
	}
	return pool, nil
}

// maskPassword masks the password in database URL for logging
func maskPassword(url string) string {
	if len(url) == 0 {
		return "<empty>"
	}
	// Simple masking - find password part between : and @
	start := 0
	for i := 0; i < len(url); i++ {
		if url[i] == ':' && i > 0 && url[i-1] != '/' {
			start = i + 1
		}
		if url[i] == '@' && start > 0 {
			return url[:start] + "***" + url[i:]
		}
	}
	return url
}
