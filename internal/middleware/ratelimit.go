package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	RateLimitHeader          = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
)

// RateLimitConfig bounds requests per key per window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// KeyFunc extracts the limit key. Defaults to the client IP.
	KeyFunc func(*gin.Context) string
	// SkipFunc exempts requests from limiting.
	SkipFunc func(*gin.Context) bool
	// Prefix namespaces the Redis keys.
	Prefix string
}

// DefaultRateLimitConfig allows 60 compute requests per minute per client IP.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: 60,
		Window:   time.Minute,
		Prefix:   "factor:ratelimit:",
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
		SkipFunc: func(c *gin.Context) bool {
			return c.Request.URL.Path == "/health"
		},
	}
}

// RateLimiter is a fixed-window limiter. With a Redis client the windows are
// shared between replicas; otherwise they are kept in process.
type RateLimiter struct {
	config RateLimitConfig
	redis  *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	window map[string]*windowCount
}

type windowCount struct {
	count int
	reset time.Time
}

// NewRateLimiter creates a limiter. redisClient and logger may be nil.
func NewRateLimiter(config RateLimitConfig, redisClient *redis.Client, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRateLimitConfig()
	if config.Requests <= 0 {
		config.Requests = def.Requests
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.KeyFunc == nil {
		config.KeyFunc = def.KeyFunc
	}
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	return &RateLimiter{
		config: config,
		redis:  redisClient,
		logger: logger,
		window: make(map[string]*windowCount),
	}
}

// Middleware returns the gin handler.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.config.SkipFunc != nil && rl.config.SkipFunc(c) {
			c.Next()
			return
		}

		key := rl.config.KeyFunc(c)
		allowed, remaining, reset, err := rl.take(c.Request.Context(), key)
		if err != nil {
			// Fail open: a limiter outage must not take the API down.
			rl.logger.Error("Rate limit check failed", zap.Error(err), zap.String("key", key))
			c.Next()
			return
		}

		c.Header(RateLimitHeader, strconv.Itoa(rl.config.Requests))
		c.Header(RateLimitRemainingHeader, strconv.Itoa(remaining))
		c.Header(RateLimitResetHeader, strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":      "error",
				"error":       "rate limit exceeded",
				"retry_after": int64(time.Until(reset).Seconds()),
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) take(ctx context.Context, key string) (bool, int, time.Time, error) {
	if rl.redis != nil {
		return rl.takeRedis(ctx, key)
	}
	return rl.takeLocal(key, time.Now())
}

// takeScript increments the window counter and returns {allowed, remaining, ttl}.
var takeScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
	return {0, 0, redis.call("PTTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, limit - current, redis.call("PTTL", KEYS[1])}
`)

func (rl *RateLimiter) takeRedis(ctx context.Context, key string) (bool, int, time.Time, error) {
	res, err := takeScript.Run(ctx, rl.redis, []string{rl.config.Prefix + key},
		rl.config.Requests, rl.config.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, err
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected rate limit reply of length %d", len(res))
	}
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		ttl = rl.config.Window
	}
	return res[0] == 1, int(res[1]), time.Now().Add(ttl), nil
}

func (rl *RateLimiter) takeLocal(key string, now time.Time) (bool, int, time.Time, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.window) > 1024 {
		for k, w := range rl.window {
			if now.After(w.reset) {
				delete(rl.window, k)
			}
		}
	}

	w, ok := rl.window[key]
	if !ok || now.After(w.reset) {
		w = &windowCount{reset: now.Add(rl.config.Window)}
		rl.window[key] = w
	}
	if w.count >= rl.config.Requests {
		return false, 0, w.reset, nil
	}
	w.count++
	return true, rl.config.Requests - w.count, w.reset, nil
}

// Reset clears the window of key.
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	if rl.redis != nil {
		return rl.redis.Del(ctx, rl.config.Prefix+key).Err()
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.window, key)
	return nil
}
