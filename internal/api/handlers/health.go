package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

var startTime = time.Now()

// HealthChecker is implemented by the database and Redis connections.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checks  map[string]HealthChecker
	version string
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	// Status is "healthy" or "degraded".
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// NewHealthHandler creates a handler. checks maps a dependency name, such as
// "database" or "redis", to its checker; nil checkers are skipped.
func NewHealthHandler(checks map[string]HealthChecker, version string) *HealthHandler {
	live := make(map[string]HealthChecker, len(checks))
	for name, c := range checks {
		if c != nil {
			live[name] = c
		}
	}
	return &HealthHandler{checks: live, version: version}
}

// HealthCheck probes every configured dependency. A failing dependency marks
// the service degraded but still answers 200; see ReadinessCheck.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	span := sentry.StartSpan(ctx, "health_check")
	defer span.Finish()
	span.SetTag("handler.name", "HealthCheck")

	services, healthy := h.probe(span.Context(), span)
	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	span.SetTag("overall.status", status)
	span.Status = sentry.SpanStatusOK

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	})
}

// ReadinessCheck answers 503 while any dependency is unhealthy.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services, healthy := h.probe(ctx, nil)
	code := http.StatusOK
	status := "ready"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "not_ready"
	}
	writeJSON(w, code, map[string]any{"status": status, "services": services})
}

// LivenessCheck always answers 200 while the process serves requests.
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthHandler) probe(ctx context.Context, span *sentry.Span) (map[string]string, bool) {
	services := map[string]string{"engine": "healthy"}
	healthy := true
	for name, c := range h.checks {
		if err := c.HealthCheck(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			healthy = false
			sentry.CaptureException(err)
		} else {
			services[name] = "healthy"
		}
		if span != nil {
			span.SetTag(name+".status", services[name])
		}
	}
	return services, healthy
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		sentry.CaptureException(err)
	}
}
