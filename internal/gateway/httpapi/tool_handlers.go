package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jkaninda/okapi"

	"github.com/karibuhq/karibu/internal/executor"
	"github.com/karibuhq/karibu/internal/ledger"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/tools"
)

// **** Tool invocation request/response types ****

// ToolInvokeRequest is the JSON body for POST /v1/tools/{name}.
type ToolInvokeRequest struct {
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"` // Overrides the Idempotency-Key header.
}

// InvocationResponse is the JSON response for a completed invocation.
type InvocationResponse struct {
	Status        string          `json:"status"`
	Cached        bool            `json:"cached,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	Error         string          `json:"error,omitempty"`
	CorrelationID string          `json:"correlation_id"`
}

// **** Handlers ****

func (g *Gateway) handleToolInvoke(c *okapi.Context) error {
	agent, err := g.currentAgent(c)
	if err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(agent.ID.String()); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	toolName := c.Param("name")
	if toolName == "" {
		return c.AbortBadRequest("tool name is required")
	}

	var req ToolInvokeRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if len(req.Payload) == 0 {
		return c.AbortBadRequest("payload is required")
	}

	key := req.IdempotencyKey
	if key == "" {
		key = c.Header("Idempotency-Key")
	}

	inv, err := g.exec.Invoke(c.Context(), agent, toolName, req.Payload, key)
	if err != nil {
		if errors.Is(err, executor.ErrCachedFailure) && inv != nil {
			// The ledger replayed a terminal failure. Report it as the
			// failure it is, with the cached outcome in the body.
			return c.JSON(http.StatusInternalServerError, InvocationResponse{
				Status:        string(inv.Status),
				Cached:        inv.Cached,
				Output:        inv.Output,
				Error:         inv.Error,
				CorrelationID: inv.CorrelationID,
			})
		}
		return g.invokeError(c, toolName, err)
	}

	return c.OK(InvocationResponse{
		Status:        string(inv.Status),
		Cached:        inv.Cached,
		Output:        inv.Output,
		Summary:       inv.Summary,
		Error:         inv.Error,
		CorrelationID: inv.CorrelationID,
	})
}

// invokeError maps pipeline errors to HTTP responses. Denials and
// validation failures are client errors; execution failures report
// whether a retry is worthwhile.
func (g *Gateway) invokeError(c *okapi.Context, toolName string, err error) error {
	switch {
	case errors.Is(err, security.ErrUnknownTool):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "unknown tool"})
	case errors.Is(err, security.ErrRoleNotPermitted), errors.Is(err, security.ErrInsufficientRiskTier):
		return c.JSON(http.StatusForbidden, okapi.M{"error": err.Error()})
	case errors.Is(err, executor.ErrValidation):
		return c.AbortBadRequest(err.Error())
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		return c.JSON(http.StatusConflict, okapi.M{"error": err.Error()})
	case errors.Is(err, ledger.ErrInFlight):
		return c.JSON(http.StatusConflict, okapi.M{"error": "invocation in flight, retry later"})
	case tools.IsRetryable(err):
		return c.AbortServiceUnavailable("execution failed, retry later")
	default:
		g.logger.Error("tool invocation failed",
			slog.String("tool", toolName),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("execution failed")
	}
}
