package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds gateway-level Prometheus metrics.
// Uses a custom registry — no global state. Subsystem packages
// (executor, taskqueue, ledger) register their own metrics on the
// same Registry.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Inbound lead metrics.
	LeadsTotal *prometheus.CounterVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "karibu",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "karibu",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		LeadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "karibu",
			Subsystem: "leads",
			Name:      "received_total",
			Help:      "Total inbound leads by classified type.",
		}, []string{"lead_type"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "karibu",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LeadsTotal,
		m.ActiveRequests,
	)

	return m
}
