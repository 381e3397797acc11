package database

import (
	"context"
	"errors"
	"net"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

func hubFromContext(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

// PostgresSentryTracer reports failed queries to Sentry. It is a no-op when
// Sentry has not been initialised.
type PostgresSentryTracer struct{}

var _ pgx.QueryTracer = (*PostgresSentryTracer)(nil)

type queryKey struct{}

func (t *PostgresSentryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryKey{}, data.SQL)
}

func (t *PostgresSentryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err == nil || errors.Is(data.Err, pgx.ErrNoRows) || errors.Is(data.Err, context.Canceled) {
		return
	}
	hub := hubFromContext(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("db.system", "postgresql")
		if query, ok := ctx.Value(queryKey{}).(string); ok {
			scope.SetContext("db", sentry.Context{"statement": query})
		}
		hub.CaptureException(data.Err)
	})
}

// RedisSentryHook reports failed Redis commands to Sentry. Cache misses are
// not failures.
type RedisSentryHook struct{}

var _ redis.Hook = (*RedisSentryHook)(nil)

func (h *RedisSentryHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			captureRedis(ctx, "dial", err)
		}
		return conn, err
	}
}

func (h *RedisSentryHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			captureRedis(ctx, cmd.Name(), err)
		}
		return err
	}
}

func (h *RedisSentryHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			captureRedis(ctx, "pipeline", err)
		}
		return err
	}
}

func captureRedis(ctx context.Context, command string, err error) {
	hub := hubFromContext(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("db.system", "redis")
		scope.SetTag("db.operation", command)
		hub.CaptureException(err)
	})
}
