package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/irfndi/etffactor/internal/config"
)

// Open builds the store selected by cfg.Backend. rdb is required only for
// the redis backend.
func Open(ctx context.Context, cfg config.CacheConfig, rdb *redis.Client, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.TTL), nil
	case "none":
		return &NoopStore{}, nil
	case "redis":
		return NewRedisStore(rdb, cfg.TTL, cfg.Prefix, logger)
	case "sqlite":
		return OpenSQLiteStore(ctx, cfg.SQLitePath, cfg.TTL, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
