package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// checkTimeout bounds the whole readiness probe, not each check: a hung
// database ping must not push /readyz past the load balancer's own
// probe deadline.
const checkTimeout = 3 * time.Second

// HealthChecker aggregates readiness across the gateway's dependencies.
// Checks are registered at startup (the storage ping at minimum) and
// probed concurrently on every /readyz request.
type HealthChecker struct {
	mu     sync.Mutex
	checks map[string]func(ctx context.Context) error
	logger *slog.Logger
}

// HealthStatus is the JSON body of the readiness endpoint.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult reports one dependency probe.
type CheckResult struct {
	Status    string `json:"status"`            // "ok" or "fail"
	Message   string `json:"message,omitempty"` // Error text on failure.
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}
}

// AddCheck registers a named dependency check. Re-registering a name
// replaces the previous check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// CheckReady probes every registered dependency concurrently and reports
// "ok" only when all of them pass. A failing check degrades the status
// but never hides the results of the healthy ones.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	checks := make(map[string]func(ctx context.Context) error, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.Unlock()

	if len(checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(checks)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check func(ctx context.Context) error) {
			defer wg.Done()
			start := time.Now()
			err := check(probeCtx)
			result := CheckResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				result.Status = "fail"
				result.Message = err.Error()
				if h.logger != nil {
					h.logger.Warn("readiness check failed",
						slog.String("check", name),
						slog.String("error", err.Error()),
					)
				}
			}

			mu.Lock()
			status.Checks[name] = result
			if err != nil {
				status.Status = "degraded"
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	return status
}
