// Package middleware provides the gin middleware of the factor service:
// Sentry telemetry, request logging, rate limiting and bearer auth.
package middleware

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"github.com/irfndi/etffactor/internal/logging"
)

// TelemetryMiddleware attaches a Sentry hub to every request and repanics
// so gin.Recovery still answers 500.
func TelemetryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// HealthCheckTelemetryMiddleware tags health probes so they can be filtered
// out of traces.
func HealthCheckTelemetryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.Scope().SetTag("transaction_type", "health_check")
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *logging.StandardLogger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.Nop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.LogAPIRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start), c.ClientIP())
	}
}

// RecordError reports err on the request's Sentry hub, if any.
func RecordError(c *gin.Context, err error, description string) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", description)
		hub.CaptureException(err)
	})
	if span := sentry.TransactionFromContext(c.Request.Context()); span != nil {
		span.Status = sentry.SpanStatusInternalError
	}
}

// AddSpanAttribute sets a tag on the request's Sentry scope.
func AddSpanAttribute(c *gin.Context, key string, value any) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.Scope().SetTag(key, fmt.Sprint(value))
	}
}
