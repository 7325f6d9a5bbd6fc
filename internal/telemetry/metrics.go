// Package telemetry holds the Prometheus instruments for the service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics groups every instrument the service records. A nil *Metrics
// is a valid no-op receiver, so components can be built without
// telemetry in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Upstream provider metrics
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	UpstreamBlocked  prometheus.Counter

	// Cache metrics
	CacheOps       *prometheus.CounterVec
	StaleFallbacks prometheus.Counter

	// Query engine metrics
	Queries       *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	GateWaiters   prometheus.Gauge
}

// New creates a registry with all service metrics registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendpulse_upstream_requests_total",
				Help: "Upstream provider calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trendpulse_upstream_request_duration_seconds",
				Help:    "Upstream provider call duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"operation"},
		),

		UpstreamBlocked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trendpulse_upstream_blocked_total",
				Help: "Upstream failures classified as anti-bot blocks",
			},
		),

		CacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendpulse_cache_ops_total",
				Help: "Cache operations by op and outcome",
			},
			[]string{"op", "outcome"},
		),

		StaleFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trendpulse_stale_fallbacks_total",
				Help: "Responses served from the stale cache tier",
			},
		),

		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendpulse_queries_total",
				Help: "Trend queries by final status",
			},
			[]string{"status"},
		),

		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trendpulse_query_duration_seconds",
				Help:    "End-to-end trend query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 30.0, 60.0, 120.0},
			},
		),

		GateWaiters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trendpulse_gate_waiters",
				Help: "Callers queued behind the upstream concurrency gate",
			},
		),
	}

	m.registry.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.UpstreamBlocked,
		m.CacheOps,
		m.StaleFallbacks,
		m.Queries,
		m.QueryDuration,
		m.GateWaiters,
	)

	return m
}

// RecordUpstream records one provider call.
func (m *Metrics) RecordUpstream(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(operation, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordBlocked counts an upstream failure with a block signature.
func (m *Metrics) RecordBlocked() {
	if m == nil {
		return
	}
	m.UpstreamBlocked.Inc()
}

// RecordCacheOp records one cache operation outcome (hit, miss, error, ...).
func (m *Metrics) RecordCacheOp(op, outcome string) {
	if m == nil {
		return
	}
	m.CacheOps.WithLabelValues(op, outcome).Inc()
}

// RecordStaleFallback counts a response served from the stale tier.
func (m *Metrics) RecordStaleFallback() {
	if m == nil {
		return
	}
	m.StaleFallbacks.Inc()
}

// RecordQuery records one finished query with its final status.
func (m *Metrics) RecordQuery(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(status).Inc()
	m.QueryDuration.Observe(d.Seconds())
}

// SetGateWaiters updates the gate queue-depth gauge.
func (m *Metrics) SetGateWaiters(n int) {
	if m == nil {
		return
	}
	m.GateWaiters.Set(float64(n))
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CounterValue reads a counter's current value. Used by tests and the
// health snapshot.
func CounterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}
