// Package logging provides the structured zap logger shared by the service,
// the CLI and the engine.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StandardLogger wraps a zap logger with the field helpers used across the
// codebase. Every With* method returns a child logger; the receiver is never
// modified.
type StandardLogger struct {
	logger *zap.Logger
}

// NewStandardLogger builds a logger for the given level and environment.
// Production uses the JSON encoder; anything else uses the console encoder.
func NewStandardLogger(level, environment string) *StandardLogger {
	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if strings.EqualFold(environment, "production") {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "time"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), getZapLevel(level))
	return &StandardLogger{logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) *StandardLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &StandardLogger{logger: l}
}

// Nop returns a logger that discards everything.
func Nop() *StandardLogger {
	return &StandardLogger{logger: zap.NewNop()}
}

func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger returns the underlying zap logger for libraries that accept one.
func (l *StandardLogger) Logger() *zap.Logger {
	return l.logger
}

func (l *StandardLogger) with(fields ...zap.Field) *StandardLogger {
	return &StandardLogger{logger: l.logger.With(fields...)}
}

func (l *StandardLogger) WithService(service string) *StandardLogger {
	return l.with(zap.String("service", service))
}

func (l *StandardLogger) WithComponent(component string) *StandardLogger {
	return l.with(zap.String("component", component))
}

func (l *StandardLogger) WithOperation(operation string) *StandardLogger {
	return l.with(zap.String("operation", operation))
}

func (l *StandardLogger) WithRequestID(requestID string) *StandardLogger {
	return l.with(zap.String("request_id", requestID))
}

func (l *StandardLogger) WithFactor(factor string) *StandardLogger {
	return l.with(zap.String("factor", factor))
}

func (l *StandardLogger) WithRunID(runID string) *StandardLogger {
	return l.with(zap.String("run_id", runID))
}

func (l *StandardLogger) WithError(err error) *StandardLogger {
	return l.with(zap.Error(err))
}

// WithFields attaches arbitrary key/value pairs.
func (l *StandardLogger) WithFields(fields map[string]interface{}) *StandardLogger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return l.with(zf...)
}

func (l *StandardLogger) Debug(msg string, fields ...zap.Field) { l.logger.Debug(msg, fields...) }
func (l *StandardLogger) Info(msg string, fields ...zap.Field)  { l.logger.Info(msg, fields...) }
func (l *StandardLogger) Warn(msg string, fields ...zap.Field)  { l.logger.Warn(msg, fields...) }
func (l *StandardLogger) Error(msg string, fields ...zap.Field) { l.logger.Error(msg, fields...) }

// LogStartup records a service start.
func (l *StandardLogger) LogStartup(service, version string, port int) {
	l.logger.Info("Service starting",
		zap.String("service", service),
		zap.String("version", version),
		zap.Int("port", port),
		zap.String("event", "startup"),
	)
}

// LogShutdown records a service stop.
func (l *StandardLogger) LogShutdown(service, reason string) {
	l.logger.Info("Service shutting down",
		zap.String("service", service),
		zap.String("reason", reason),
		zap.String("event", "shutdown"),
	)
}

// LogAPIRequest records one HTTP request.
func (l *StandardLogger) LogAPIRequest(method, path string, statusCode int, duration time.Duration, clientIP string) {
	l.logger.Info("API request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.String("client_ip", clientIP),
		zap.String("event", "api_request"),
	)
}

// LogCacheOperation records a cache read or write.
func (l *StandardLogger) LogCacheOperation(operation, key string, hit bool) {
	l.logger.Debug("Cache operation",
		zap.String("operation", operation),
		zap.String("key", key),
		zap.Bool("hit", hit),
		zap.String("event", "cache_operation"),
	)
}

// LogBatchSummary records the outcome of one batch run.
func (l *StandardLogger) LogBatchSummary(runID string, requested, computed, cached, failed int, duration time.Duration) {
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.Int("requested", requested),
		zap.Int("computed", computed),
		zap.Int("cached", cached),
		zap.Int("failed", failed),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.String("event", "batch_summary"),
	}
	if failed > 0 {
		l.logger.Warn("Batch finished with failures", fields...)
		return
	}
	l.logger.Info("Batch finished", fields...)
}

// Sync flushes buffered entries.
func (l *StandardLogger) Sync() error {
	return l.logger.Sync()
}
