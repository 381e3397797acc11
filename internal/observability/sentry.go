// Package observability initialises error reporting for the service.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/irfndi/etffactor/internal/config"
)

// InitSentry configures the global Sentry client. An empty DSN leaves
// Sentry disabled and is not an error.
func InitSentry(cfg config.SentryConfig, release, environment string) (bool, error) {
	if cfg.DSN == "" {
		return false, nil
	}
	env := cfg.Environment
	if env == "" {
		env = environment
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      env,
		Release:          release,
		SampleRate:       cfg.SampleRate,
		EnableTracing:    true,
		TracesSampleRate: cfg.SampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return true, nil
}

// Flush waits for buffered events, bounded by ctx or two seconds.
func Flush(ctx context.Context) {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	sentry.Flush(timeout)
}
