// Package httpapi implements the HTTP API gateway for Karibu.
//
// Security:
//   - Agent credential authentication on every /v1 request (hash lookup)
//   - Admin endpoints gated by a separate API key (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-agent rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/jkaninda/okapi"

	"github.com/karibuhq/karibu/internal/executor"
	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/leader"
	"github.com/karibuhq/karibu/internal/observability"
	"github.com/karibuhq/karibu/internal/ratelimit"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/taskqueue"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	AdminAPIKey    string // Key for /v1/admin endpoints. Empty = admin surface disabled.
	MaxRequestSize int64  // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config     Config
	identities *identity.Manager
	exec       *executor.Executor
	queue      *taskqueue.Queue
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	server     *http.Server

	auditStore    security.AuditStore      // nil = audit endpoint disabled.
	scheduler     *taskqueue.Scheduler     // nil = schedule endpoints disabled.
	scheduleStore taskqueue.ScheduleStore
	leadRouter    *leader.Router // nil = lead webhook disabled.

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, ids *identity.Manager, exec *executor.Executor, queue *taskqueue.Queue, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:     cfg,
		identities: ids,
		exec:       exec,
		queue:      queue,
		limiter:    rl,
		logger:     logger,
		okapi:      okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithAudit attaches the audit query endpoint to the gateway.
func (g *Gateway) WithAudit(store security.AuditStore) *Gateway {
	g.auditStore = store
	return g
}

// WithScheduler attaches schedule management to the gateway.
func (g *Gateway) WithScheduler(sched *taskqueue.Scheduler, store taskqueue.ScheduleStore) *Gateway {
	g.scheduler = sched
	g.scheduleStore = store
	return g
}

// WithLeadRouter attaches the inbound lead webhook to the gateway.
func (g *Gateway) WithLeadRouter(router *leader.Router) *Gateway {
	g.leadRouter = router
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Karibu",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.Use(observability.TelemetryMiddleware(g.config.Metrics, g.config.Tracer))
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Tool invocation.
	g.group.Post("/tools/{name}", g.handleToolInvoke,
		okapi.DocSummary("Invoke a tool synchronously"),
		okapi.DocTags("Tools"),
		okapi.DocPathParam("name", "string", "Tool name, e.g. bookings.create"),
		okapi.DocRequestBody(ToolInvokeRequest{}),
		okapi.DocResponse(InvocationResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	// Task endpoints.
	g.group.Post("/tasks", g.handleTaskSubmit,
		okapi.DocSummary("Enqueue a background task"),
		okapi.DocTags("Tasks"),
		okapi.DocRequestBody(TaskSubmitRequest{}),
		okapi.DocResponse(http.StatusAccepted, TaskResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/tasks", g.handleTaskList,
		okapi.DocSummary("List tasks"),
		okapi.DocTags("Tasks"),
		okapi.DocResponse([]TaskResponse{}),
	)
	g.group.Get("/tasks/{id}", g.handleTaskGet,
		okapi.DocSummary("Get a task by ID"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocResponse(TaskResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/tasks/{id}/cancel", g.handleTaskCancel,
		okapi.DocSummary("Cancel a queued task"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocRequestBody(TaskCancelRequest{}),
		okapi.DocResponse(TaskResponse{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Audit endpoint (only if an audit store is configured).
	if g.auditStore != nil {
		g.group.Get("/audit", g.handleAuditQuery,
			okapi.DocSummary("Query the audit log"),
			okapi.DocTags("Audit"),
			okapi.DocResponse([]AuditEntryResponse{}),
		)
	}

	// Schedule endpoints (only if a scheduler is configured).
	if g.scheduler != nil {
		g.group.Post("/schedules", g.handleScheduleCreate,
			okapi.DocSummary("Create a recurring task schedule"),
			okapi.DocTags("Schedules"),
			okapi.DocRequestBody(ScheduleRequest{}),
			okapi.DocResponse(http.StatusCreated, ScheduleResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/schedules", g.handleScheduleList,
			okapi.DocSummary("List schedules"),
			okapi.DocTags("Schedules"),
			okapi.DocResponse([]ScheduleResponse{}),
		)
		g.group.Get("/schedules/{id}", g.handleScheduleGet,
			okapi.DocSummary("Get a schedule by ID"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID (UUID)"),
			okapi.DocResponse(ScheduleResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Post("/schedules/{id}/enable", g.handleScheduleEnable,
			okapi.DocSummary("Enable a schedule"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID (UUID)"),
			okapi.DocResponse(map[string]string{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Post("/schedules/{id}/disable", g.handleScheduleDisable,
			okapi.DocSummary("Disable a schedule"),
			okapi.DocTags("Schedules"),
			okapi.DocPathParam("id", "string", "Schedule ID (UUID)"),
			okapi.DocResponse(map[string]string{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Inbound lead webhook (only if a router is configured).
	if g.leadRouter != nil {
		g.group.Post("/leads", g.handleLead,
			okapi.DocSummary("Submit an inbound lead message for classification and routing"),
			okapi.DocTags("Leads"),
			okapi.DocRequestBody(LeadRequest{}),
			okapi.DocResponse(http.StatusAccepted, LeadResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	// Admin group: agent identity management.
	admin := g.okapi.Group("/v1/admin", g.authenticateAdmin)
	admin.Post("/agents", g.handleAgentCreate,
		okapi.DocSummary("Issue a new agent identity"),
		okapi.DocTags("Admin"),
		okapi.DocRequestBody(AgentCreateRequest{}),
		okapi.DocResponse(http.StatusCreated, AgentCreatedResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	admin.Get("/agents", g.handleAgentList,
		okapi.DocSummary("List agent identities"),
		okapi.DocTags("Admin"),
		okapi.DocResponse([]AgentResponse{}),
	)
	admin.Post("/agents/{id}/deactivate", g.handleAgentDeactivate,
		okapi.DocSummary("Deactivate an agent identity"),
		okapi.DocTags("Admin"),
		okapi.DocPathParam("id", "string", "Agent ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	admin.Post("/agents/{id}/reactivate", g.handleAgentReactivate,
		okapi.DocSummary("Reactivate an agent identity"),
		okapi.DocTags("Admin"),
		okapi.DocPathParam("id", "string", "Agent ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate resolves the Bearer credential to an active agent identity.
// Only the agent ID travels in the request context; handlers re-read the
// identity so a mid-request deactivation is still observed.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		secret := strings.TrimPrefix(authHeader, "Bearer ")

		agent, err := g.identities.Resolve(c.Context(), secret)
		if err != nil {
			if errors.Is(err, identity.ErrCredentialNotFound) || errors.Is(err, identity.ErrAgentInactive) {
				return c.AbortUnauthorized("invalid credential")
			}
			g.logger.Error("credential resolution failed", slog.String("error", err.Error()))
			return c.AbortInternalServerError("authentication failed")
		}

		c.Set("agentID", agent.ID.String())
		return next(c)
	}
}

// authenticateAdmin validates the admin API key (constant-time comparison).
func (g *Gateway) authenticateAdmin(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.AdminAPIKey == "" {
			return c.AbortServiceUnavailable("admin API disabled")
		}
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		key := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(key), []byte(g.config.AdminAPIKey)) != 1 {
			return c.AbortUnauthorized("invalid admin API key")
		}
		return next(c)
	}
}

// currentAgent loads the authenticated agent for the request.
func (g *Gateway) currentAgent(c *okapi.Context) (*identity.AgentIdentity, error) {
	raw := c.GetString("agentID")
	if raw == "" {
		return nil, errors.New("no authenticated agent")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return g.identities.Get(c.Context(), id)
}
