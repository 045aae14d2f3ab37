package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/okapi"

	"github.com/karibuhq/karibu/internal/taskqueue"
)

// **** Schedule request/response types ****

// ScheduleRequest is the JSON body for POST /v1/schedules.
type ScheduleRequest struct {
	Name           string          `json:"name"`
	AgentID        string          `json:"agent_id,omitempty"` // Empty = the submitting agent.
	Tool           string          `json:"tool"`
	Payload        json.RawMessage `json:"payload"`
	CronExpression string          `json:"cron_expression"`
}

// ScheduleResponse is the JSON representation of a schedule.
type ScheduleResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	AgentID        string          `json:"agent_id"`
	Role           string          `json:"role"`
	Tool           string          `json:"tool"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CronExpression string          `json:"cron_expression"`
	Enabled        bool            `json:"enabled"`
	NextRunAt      time.Time       `json:"next_run_at"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toScheduleResponse(s *taskqueue.Schedule) ScheduleResponse {
	resp := ScheduleResponse{
		ID:             s.ID.String(),
		Name:           s.Name,
		AgentID:        s.AgentID.String(),
		Role:           string(s.Role),
		Tool:           s.Tool,
		Payload:        s.Payload,
		CronExpression: s.CronExpr,
		Enabled:        s.Enabled,
		NextRunAt:      s.NextRunAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if !s.LastRunAt.IsZero() {
		last := s.LastRunAt
		resp.LastRunAt = &last
	}
	return resp
}

// **** Handlers ****

func (g *Gateway) handleScheduleCreate(c *okapi.Context) error {
	agent, err := g.currentAgent(c)
	if err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}
	if g.limiter != nil {
		if err := g.limiter.Allow(agent.ID.String()); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Name == "" {
		return c.AbortBadRequest("name is required")
	}
	if req.Tool == "" {
		return c.AbortBadRequest("tool is required")
	}
	if req.CronExpression == "" {
		return c.AbortBadRequest("cron_expression is required")
	}

	// Schedules run as the submitting agent unless another agent is named;
	// the schedule carries that agent's role onto every fired task.
	runAs := agent
	if req.AgentID != "" {
		id, err := uuid.Parse(req.AgentID)
		if err != nil {
			return c.AbortBadRequest("invalid agent_id")
		}
		if runAs, err = g.identities.Get(c.Context(), id); err != nil {
			return c.AbortBadRequest("unknown agent_id")
		}
	}

	sched, err := g.scheduler.CreateSchedule(c.Context(), req.Name, runAs.ID, runAs.Role, req.Tool, req.Payload, req.CronExpression)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	g.logger.Info("schedule created",
		slog.String("schedule_id", sched.ID.String()),
		slog.String("created_by", agent.ID.String()),
		slog.String("cron_expression", req.CronExpression),
	)

	return c.JSON(http.StatusCreated, toScheduleResponse(sched))
}

func (g *Gateway) handleScheduleList(c *okapi.Context) error {
	if _, err := g.currentAgent(c); err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}

	schedules, err := g.scheduleStore.List(c.Context())
	if err != nil {
		return c.AbortInternalServerError("failed to list schedules")
	}

	resp := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		resp[i] = toScheduleResponse(&schedules[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleScheduleGet(c *okapi.Context) error {
	if _, err := g.currentAgent(c); err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid schedule ID")
	}

	sched, err := g.scheduleStore.Get(c.Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "schedule not found"})
	}
	return c.OK(toScheduleResponse(sched))
}

func (g *Gateway) handleScheduleEnable(c *okapi.Context) error {
	return g.setScheduleEnabled(c, true)
}

func (g *Gateway) handleScheduleDisable(c *okapi.Context) error {
	return g.setScheduleEnabled(c, false)
}

func (g *Gateway) setScheduleEnabled(c *okapi.Context, enabled bool) error {
	agent, err := g.currentAgent(c)
	if err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid schedule ID")
	}

	if err := g.scheduleStore.SetEnabled(c.Context(), id, enabled); err != nil {
		if errors.Is(err, taskqueue.ErrScheduleNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "schedule not found"})
		}
		return c.AbortInternalServerError("failed to update schedule")
	}

	status := "disabled"
	if enabled {
		status = "enabled"
	}
	g.logger.Info("schedule "+status,
		slog.String("schedule_id", id.String()),
		slog.String("updated_by", agent.ID.String()),
	)
	return c.OK(okapi.M{"status": status})
}
