package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/irfndi/etffactor/pkg/factors"
)

const defaultRedisPrefix = "factor:"

// RedisStore keeps JSON-encoded results in Redis under prefix+Key.String().
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
	stats  Stats
}

// NewRedisStore wraps client. An empty prefix uses "factor:".
func NewRedisStore(client *redis.Client, ttl time.Duration, prefix string, logger *zap.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis cache requires a client")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{redis: client, ttl: ttl, prefix: prefix, logger: logger}, nil
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*factors.Result, bool, error) {
	data, err := s.redis.Get(ctx, s.prefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		s.stats.miss()
		return nil, false, nil
	}
	if err != nil {
		s.stats.miss()
		return nil, false, fmt.Errorf("redis cache get %s: %w", key, err)
	}

	e, err := decodeEntry(data)
	if err != nil {
		// A corrupt entry is treated as a miss and removed so it can be rebuilt.
		s.logger.Warn("Dropping unreadable cache entry", zap.String("key", key.String()), zap.Error(err))
		_ = s.redis.Del(ctx, s.prefix+key.String()).Err()
		s.stats.miss()
		return nil, false, nil
	}
	s.stats.hit()
	return e.Result, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, result *factors.Result) error {
	data, err := encodeEntry(key, result, time.Now().UTC())
	if err != nil {
		return err
	}

	stored, err := s.redis.SetNX(ctx, s.prefix+key.String(), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis cache put %s: %w", key, err)
	}
	if stored {
		s.stats.set()
		s.logger.Debug("Cached factor result",
			zap.String("key", key.String()),
			zap.Int("rows", result.Len()),
			zap.Duration("ttl", s.ttl))
	}
	return nil
}

func (s *RedisStore) scan(ctx context.Context, factor string) ([]string, error) {
	pattern := s.prefix + "*"
	if factor != "" {
		pattern = s.prefix + factors.NormalizeName(factor) + ":*"
	}

	iter := s.redis.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) Keys(ctx context.Context, factor string) ([]string, error) {
	raw, err := s.scan(ctx, factor)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Clear(ctx context.Context, factor string) (int, error) {
	keys, err := s.scan(ctx, factor)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	s.logger.Info("Cleared cache entries", zap.Int64("count", n), zap.String("factor", factor))
	return int(n), nil
}

func (s *RedisStore) Info(ctx context.Context) (Info, error) {
	keys, err := s.Keys(ctx, "")
	if err != nil {
		return Info{}, err
	}
	info := Info{Backend: "redis", Entries: len(keys), ByFactor: make(map[string]int)}
	if s.ttl > 0 {
		info.TTL = s.ttl.String()
	}
	for _, k := range keys {
		info.ByFactor[factorOfKey(k)]++
	}
	s.stats.fill(&info)
	return info, nil
}

// Close is a no-op: the client belongs to the caller.
func (s *RedisStore) Close() error { return nil }
