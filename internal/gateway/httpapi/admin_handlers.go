package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/okapi"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/security"
)

// **** Agent admin request/response types ****

// AgentCreateRequest is the JSON body for POST /v1/admin/agents.
type AgentCreateRequest struct {
	DisplayName string            `json:"display_name"`
	Role        string            `json:"role"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AgentResponse is the JSON representation of an agent identity.
// The credential hash is never exposed.
type AgentResponse struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Role        string            `json:"role"`
	Active      bool              `json:"active"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// AgentCreatedResponse carries the one-time plaintext secret. It is
// returned exactly once and cannot be recovered afterwards.
type AgentCreatedResponse struct {
	Agent  AgentResponse `json:"agent"`
	Secret string        `json:"secret"`
}

func toAgentResponse(a *identity.AgentIdentity) AgentResponse {
	return AgentResponse{
		ID:          a.ID.String(),
		DisplayName: a.DisplayName,
		Role:        string(a.Role),
		Active:      a.Active,
		Metadata:    a.Metadata,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// **** Handlers ****

func (g *Gateway) handleAgentCreate(c *okapi.Context) error {
	var req AgentCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.DisplayName == "" {
		return c.AbortBadRequest("display_name is required")
	}
	role, ok := security.ParseRole(req.Role)
	if !ok {
		return c.AbortBadRequest("invalid role")
	}

	agent, secret, err := g.identities.Issue(c.Context(), req.DisplayName, role, req.Metadata)
	if err != nil {
		g.logger.Error("agent issue failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to issue agent identity")
	}

	return c.JSON(http.StatusCreated, AgentCreatedResponse{
		Agent:  toAgentResponse(agent),
		Secret: secret,
	})
}

func (g *Gateway) handleAgentList(c *okapi.Context) error {
	agents, err := g.identities.List(c.Context())
	if err != nil {
		return c.AbortInternalServerError("failed to list agents")
	}

	resp := make([]AgentResponse, len(agents))
	for i := range agents {
		resp[i] = toAgentResponse(&agents[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleAgentDeactivate(c *okapi.Context) error {
	return g.setAgentActive(c, false)
}

func (g *Gateway) handleAgentReactivate(c *okapi.Context) error {
	return g.setAgentActive(c, true)
}

func (g *Gateway) setAgentActive(c *okapi.Context, active bool) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid agent ID")
	}

	if active {
		err = g.identities.Reactivate(c.Context(), id)
	} else {
		err = g.identities.Deactivate(c.Context(), id)
	}
	if err != nil {
		if errors.Is(err, identity.ErrAgentNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "agent not found"})
		}
		return c.AbortInternalServerError("failed to update agent")
	}

	status := "deactivated"
	if active {
		status = "reactivated"
	}
	return c.OK(okapi.M{"status": status})
}
