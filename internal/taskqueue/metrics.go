package taskqueue

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the task queue and runner.
type Metrics struct {
	Enqueued     *prometheus.CounterVec
	Completed    *prometheus.CounterVec
	Retries      prometheus.Counter
	Reclaimed    prometheus.Counter
	TickDuration prometheus.Histogram
}

// NewMetrics creates and registers task queue metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "karibu",
			Subsystem: "taskqueue",
			Name:      "enqueued_total",
			Help:      "Total tasks enqueued by tool.",
		}, []string{"tool"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "karibu",
			Subsystem: "taskqueue",
			Name:      "completed_total",
			Help:      "Total tasks reaching a terminal state, by tool and status.",
		}, []string{"tool", "status"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "karibu",
			Subsystem: "taskqueue",
			Name:      "retries_total",
			Help:      "Total task attempts requeued after a transient failure.",
		}),
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "karibu",
			Subsystem: "taskqueue",
			Name:      "reclaimed_total",
			Help:      "Total stale claims returned to the queue.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "karibu",
			Subsystem: "taskqueue",
			Name:      "tick_duration_seconds",
			Help:      "Duration of each runner tick (claim + dispatch cycle).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.Enqueued,
		m.Completed,
		m.Retries,
		m.Reclaimed,
		m.TickDuration,
	)

	return m
}
