package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/okapi"

	"github.com/karibuhq/karibu/internal/taskqueue"
)

// **** Task request/response types ****

// TaskSubmitRequest is the JSON body for POST /v1/tasks.
type TaskSubmitRequest struct {
	Tool           string          `json:"tool"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	NotBefore      *time.Time      `json:"not_before,omitempty"`
}

// TaskResponse is the JSON representation of a task.
type TaskResponse struct {
	ID             string          `json:"id"`
	AgentID        string          `json:"agent_id"`
	Role           string          `json:"role"`
	Tool           string          `json:"tool"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	LastError      string          `json:"last_error,omitempty"`
	NotBefore      time.Time       `json:"not_before"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TaskCancelRequest is the JSON body for POST /v1/tasks/{id}/cancel.
type TaskCancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func toTaskResponse(t *taskqueue.Task) TaskResponse {
	resp := TaskResponse{
		ID:             t.ID.String(),
		AgentID:        t.AgentID.String(),
		Role:           string(t.Role),
		Tool:           t.Tool,
		Payload:        t.Payload,
		IdempotencyKey: t.IdempotencyKey,
		Status:         string(t.Status),
		Attempts:       t.Attempts,
		MaxAttempts:    t.MaxAttempts,
		LastError:      t.LastError,
		NotBefore:      t.NotBefore,
		ClaimedBy:      t.ClaimedBy,
		CancelReason:   t.CancelReason,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if !t.CompletedAt.IsZero() {
		completed := t.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// **** Handlers ****

func (g *Gateway) handleTaskSubmit(c *okapi.Context) error {
	agent, err := g.currentAgent(c)
	if err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}
	if g.limiter != nil {
		if err := g.limiter.Allow(agent.ID.String()); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req TaskSubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Tool == "" {
		return c.AbortBadRequest("tool is required")
	}
	if len(req.Payload) == 0 {
		return c.AbortBadRequest("payload is required")
	}

	enq := taskqueue.EnqueueRequest{
		AgentID:        agent.ID,
		Role:           agent.Role,
		Tool:           req.Tool,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		MaxAttempts:    req.MaxAttempts,
	}
	if req.NotBefore != nil {
		enq.NotBefore = *req.NotBefore
	}

	task, created, err := g.queue.Enqueue(c.Context(), enq)
	if err != nil {
		g.logger.Error("task enqueue failed",
			slog.String("tool", req.Tool),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("failed to enqueue task")
	}

	code := http.StatusAccepted
	if !created {
		// Deduplicated against an active task with the same key.
		code = http.StatusOK
	}
	return c.JSON(code, toTaskResponse(task))
}

func (g *Gateway) handleTaskList(c *okapi.Context) error {
	if _, err := g.currentAgent(c); err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}

	filter := taskqueue.Filter{
		Tool: c.Query("tool"),
	}
	if s := c.Query("status"); s != "" {
		filter.Status = taskqueue.Status(s)
	}
	if a := c.Query("agent_id"); a != "" {
		id, err := uuid.Parse(a)
		if err != nil {
			return c.AbortBadRequest("invalid agent_id")
		}
		filter.AgentID = id
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return c.AbortBadRequest("invalid limit")
		}
		filter.Limit = n
	}

	tasks, err := g.queue.List(c.Context(), filter)
	if err != nil {
		return c.AbortInternalServerError("failed to list tasks")
	}

	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = toTaskResponse(&tasks[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleTaskGet(c *okapi.Context) error {
	if _, err := g.currentAgent(c); err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid task ID")
	}

	task, err := g.queue.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "task not found"})
		}
		return c.AbortInternalServerError("failed to load task")
	}
	return c.OK(toTaskResponse(task))
}

func (g *Gateway) handleTaskCancel(c *okapi.Context) error {
	agent, err := g.currentAgent(c)
	if err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid task ID")
	}

	var req TaskCancelRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled via API"
	}

	if err := g.queue.Cancel(c.Context(), id, reason); err != nil {
		switch {
		case errors.Is(err, taskqueue.ErrTaskNotFound):
			return c.JSON(http.StatusNotFound, okapi.M{"error": "task not found"})
		case errors.Is(err, taskqueue.ErrNotCancellable):
			return c.JSON(http.StatusConflict, okapi.M{"error": "task is not in a cancellable state"})
		default:
			return c.AbortInternalServerError("failed to cancel task")
		}
	}

	g.logger.Info("task cancelled",
		slog.String("task_id", id.String()),
		slog.String("cancelled_by", agent.ID.String()),
	)

	task, err := g.queue.Get(c.Context(), id)
	if err != nil {
		return c.OK(okapi.M{"status": "cancelled"})
	}
	return c.OK(toTaskResponse(task))
}
