package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "etffactor"

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	FactorsTotal   *prometheus.CounterVec
	CacheRequests  *prometheus.CounterVec
	ComputeSeconds *prometheus.HistogramVec
	BatchSeconds   prometheus.Histogram
	BatchesTotal   prometheus.Counter
	InFlight       prometheus.Gauge
}

// NewMetrics registers the engine collectors on a dedicated registry so that
// several engines (and tests) never collide on the global one.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FactorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "factors_total",
			Help:      "Factor computations by factor and outcome status",
		}, []string{"factor", "status"}),
		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by result",
		}, []string{"result"}),
		ComputeSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "compute_seconds",
			Help:      "Time to produce one factor result, cache hits included",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"factor"}),
		BatchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_seconds",
			Help:      "Batch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batches_total",
			Help:      "Total batches run",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "factors_in_flight",
			Help:      "Factor computations currently running",
		}),
	}
}

// Registry returns the registry holding the engine collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observe(o Outcome) {
	m.FactorsTotal.WithLabelValues(o.Factor, string(o.Status)).Inc()
	switch o.Status {
	case StatusCached:
		m.CacheRequests.WithLabelValues("hit").Inc()
	case StatusComputed:
		if !o.NoCache {
			m.CacheRequests.WithLabelValues("miss").Inc()
		}
	}
	if o.Status != StatusFailed && o.Status != StatusCancelled {
		m.ComputeSeconds.WithLabelValues(o.Factor).Observe(o.Duration.Seconds())
	}
}
