package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/kook-gateway/internal/config"
	"github.com/rickgao/kook-gateway/internal/database"
)

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("opening session store", "driver", cfg.Driver, "key", cfg.Key)

	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil

	case "file":
		return NewFile(cfg.Path), nil

	case "sqlite":
		return NewSQLite(cfg.Path, cfg.Key)

	case "postgres":
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s, err := NewPostgres(ctx, pool, cfg.Key)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedis(rdb, cfg.Redis.KeyPrefix, cfg.Key), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
