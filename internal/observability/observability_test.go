package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/karibuhq/karibu/internal/config"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// gatherCounter returns the value of a counter metric from the registry,
// summed across label combinations.
func gatherCounter(t *testing.T, m *MetricsCollector, name string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestMetricsCollector_RecordsCounters(t *testing.T) {
	m := NewMetricsCollector()

	m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/tools/finance.refund", "200").Inc()
	m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/tools/finance.refund", "403").Inc()
	m.LeadsTotal.WithLabelValues("payment_request").Inc()

	if got := gatherCounter(t, m, "karibu_http_requests_total"); got != 2 {
		t.Errorf("http requests total = %v, want 2", got)
	}
	if got := gatherCounter(t, m, "karibu_leads_received_total"); got != 1 {
		t.Errorf("leads total = %v, want 1", got)
	}
}

func TestMetricsCollector_GaugeTracksActive(t *testing.T) {
	m := NewMetricsCollector()

	m.ActiveRequests.Inc()
	m.ActiveRequests.Inc()
	m.ActiveRequests.Dec()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "karibu_active_requests" {
			found = mf
		}
	}
	if found == nil {
		t.Fatal("active requests gauge not registered")
	}
	if v := found.GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Errorf("active requests = %v, want 1", v)
	}
}

func TestNew_NilConfigDisablesEverything(t *testing.T) {
	obs, err := New(nil, discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obs != nil {
		t.Error("nil config must disable observability entirely")
	}
	if obs.Registry() != nil {
		t.Error("nil observability must report a nil registry")
	}
}

func TestNew_MetricsOnly(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obs.Metrics == nil {
		t.Error("metrics should be enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracing should stay disabled")
	}
	if obs.Health == nil {
		t.Error("health checker is always created")
	}
	if obs.Registry() == nil {
		t.Error("registry should be exposed when metrics are enabled")
	}
}

func TestHealthChecker_Ready(t *testing.T) {
	h := NewHealthChecker(discard)
	h.AddCheck("database", func(context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %s, want ok", status.Status)
	}
	if status.Checks["database"].Status != "ok" {
		t.Errorf("database check = %+v", status.Checks["database"])
	}
}

func TestHealthChecker_ReplacesCheckByName(t *testing.T) {
	h := NewHealthChecker(discard)
	h.AddCheck("database", func(context.Context) error { return errors.New("not yet migrated") })
	h.AddCheck("database", func(context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %s, want ok after re-registering", status.Status)
	}
	if len(status.Checks) != 1 {
		t.Errorf("checks = %d, want 1", len(status.Checks))
	}
}

func TestHealthChecker_DegradedOnFailure(t *testing.T) {
	h := NewHealthChecker(discard)
	h.AddCheck("database", func(context.Context) error { return nil })
	h.AddCheck("queue", func(context.Context) error { return errors.New("connection refused") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %s, want degraded", status.Status)
	}
	if status.Checks["queue"].Message != "connection refused" {
		t.Errorf("queue check = %+v", status.Checks["queue"])
	}
	if status.Checks["database"].Status != "ok" {
		t.Error("a failing check must not mask healthy ones")
	}
}
