package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/jkaninda/okapi"

	"github.com/karibuhq/karibu/internal/leader"
)

// **** Lead request/response types ****

// LeadRequest is the JSON body for POST /v1/leads, one inbound free-text
// message from a customer-facing channel.
type LeadRequest struct {
	Text   string `json:"text"`
	Sender struct {
		SenderID    string `json:"sender_id"`
		DisplayName string `json:"display_name,omitempty"`
		Channel     string `json:"channel,omitempty"`
	} `json:"sender"`
}

// LeadResponse reports how the message was classified and routed.
// Routed is false when the message was received but could not be turned
// into a task; the sender still gets its acknowledgment.
type LeadResponse struct {
	Routed   bool          `json:"routed"`
	LeadType string        `json:"lead_type,omitempty"`
	Role     string        `json:"role,omitempty"`
	Tool     string        `json:"tool,omitempty"`
	TaskID   string        `json:"task_id,omitempty"`
	Fields   leader.Fields `json:"fields,omitempty"`
}

// toLeadResponse shapes the acknowledgment body. A routing failure still
// acknowledges receipt, just without a task reference.
func toLeadResponse(result *leader.Result, err error) LeadResponse {
	if err != nil || result == nil {
		return LeadResponse{}
	}
	return LeadResponse{
		Routed:   true,
		LeadType: string(result.LeadType),
		Role:     string(result.Role),
		Tool:     result.Tool,
		TaskID:   result.TaskID.String(),
		Fields:   result.Fields,
	}
}

// **** Handlers ****

// handleLead classifies and routes one inbound message. Authenticated,
// well-formed messages always get 202 — the inbound channel retries on
// anything else, and a routing failure is an operator problem, not the
// sender's. The resulting task runs asynchronously under the target
// role's service agent.
func (g *Gateway) handleLead(c *okapi.Context) error {
	agent, err := g.currentAgent(c)
	if err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}
	if g.limiter != nil {
		if err := g.limiter.Allow(agent.ID.String()); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req LeadRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Text == "" {
		return c.AbortBadRequest("text is required")
	}

	result, err := g.leadRouter.Process(c.Context(), leader.Message{
		Text: req.Text,
		Sender: leader.Sender{
			SenderID:    req.Sender.SenderID,
			DisplayName: req.Sender.DisplayName,
			Channel:     req.Sender.Channel,
		},
	})
	if err != nil {
		g.logger.Error("lead routing failed",
			slog.String("sender_id", req.Sender.SenderID),
			slog.String("error", err.Error()),
		)
	}

	return c.JSON(http.StatusAccepted, toLeadResponse(result, err))
}
