// Package store opens the storage backend selected by the service host
// configuration.
//
// Redis connectivity is verified during startup so the host never runs
// against an unreachable backend.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/gridservices/cmd/servicehost/config"
	"github.com/HatiCode/gridservices/pkg/storage"
)

// Backend is a storage.Backend that holds resources until closed.
type Backend interface {
	storage.Backend
	Close() error
}

type nopCloser struct {
	*storage.MemoryStore
}

func (nopCloser) Close() error { return nil }

// Open creates the backend named by cfg.Storage.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Storage {
	case "redis":
		logger.Info("initializing redis storage",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
		)
		redisStore, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "")
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisStore.Ping(pingCtx); err != nil {
			_ = redisStore.Close()
			return nil, fmt.Errorf("redis health check: %w", err)
		}
		logger.Info("redis storage initialized successfully")
		return redisStore, nil

	case "sqlite":
		logger.Info("initializing sqlite storage", "path", cfg.SQLitePath)
		sqliteStore, err := storage.OpenSQLite(ctx, cfg.SQLitePath, 5*time.Second, logger)
		if err != nil {
			return nil, err
		}
		return sqliteStore, nil

	case "memory":
		logger.Info("initializing in-memory storage")
		return nopCloser{storage.NewMemoryStore()}, nil

	default:
		return nil, fmt.Errorf("invalid storage type %q", cfg.Storage)
	}
}
