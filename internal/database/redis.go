package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/irfndi/etffactor/internal/config"
)

// RedisClient wraps a Redis client with Sentry error reporting.
type RedisClient struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedisConnection connects and pings within 30 seconds.
func NewRedisConnection(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	rdb.AddHook(&RedisSentryHook{})

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis", zap.String("addr", cfg.Addr()))
	return &RedisClient{Client: rdb, logger: logger}, nil
}

// NewRedisClientFrom wraps an existing client.
func NewRedisClientFrom(client *redis.Client, logger *zap.Logger) *RedisClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisClient{Client: client, logger: logger}
}

func (r *RedisClient) Close() {
	if r.Client == nil {
		return
	}
	if err := r.Client.Close(); err != nil {
		r.logger.Error("Error closing Redis client", zap.Error(err))
		return
	}
	r.logger.Info("Redis connection closed")
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return r.Client.Ping(ctx).Err()
}
