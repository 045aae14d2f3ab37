package executor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the invocation pipeline.
type Metrics struct {
	Invocations *prometheus.CounterVec
	Denials     *prometheus.CounterVec
	CacheHits   prometheus.Counter
	Duration    *prometheus.HistogramVec
}

// NewMetrics creates and registers executor metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "karibu",
			Subsystem: "executor",
			Name:      "invocations_total",
			Help:      "Total tool invocations by tool and terminal status.",
		}, []string{"tool", "status"}),
		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "karibu",
			Subsystem: "executor",
			Name:      "denials_total",
			Help:      "Total permission denials by reason.",
		}, []string{"reason"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "karibu",
			Subsystem: "executor",
			Name:      "ledger_cache_hits_total",
			Help:      "Total invocations served from the idempotency ledger.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "karibu",
			Subsystem: "executor",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of tool executions, excluding cached replays.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"tool"}),
	}

	reg.MustRegister(
		m.Invocations,
		m.Denials,
		m.CacheHits,
		m.Duration,
	)

	return m
}
