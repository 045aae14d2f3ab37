package httpapi

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/okapi"

	"github.com/karibuhq/karibu/internal/security"
)

// AuditEntryResponse is the JSON representation of an audit entry.
type AuditEntryResponse struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	Tool           string    `json:"tool"`
	Status         string    `json:"status"`
	Cached         bool      `json:"cached,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	PayloadSummary string    `json:"payload_summary,omitempty"`
	ResultSummary  string    `json:"result_summary,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toAuditResponse(e *security.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:             e.ID.String(),
		AgentID:        e.AgentID.String(),
		Tool:           e.Tool,
		Status:         string(e.Status),
		Cached:         e.Cached,
		Reason:         e.Reason,
		PayloadSummary: e.PayloadSummary,
		ResultSummary:  e.ResultSummary,
		CorrelationID:  e.CorrelationID,
		CreatedAt:      e.CreatedAt,
	}
}

func (g *Gateway) handleAuditQuery(c *okapi.Context) error {
	if _, err := g.currentAgent(c); err != nil {
		return c.AbortUnauthorized("Unauthorized")
	}

	var filter security.AuditFilter
	if a := c.Query("agent_id"); a != "" {
		id, err := uuid.Parse(a)
		if err != nil {
			return c.AbortBadRequest("invalid agent_id")
		}
		filter.AgentID = id
	}
	if s := c.Query("status"); s != "" {
		filter.Status = security.AuditStatus(s)
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return c.AbortBadRequest("since must be RFC 3339")
		}
		filter.Since = t
	}
	if u := c.Query("until"); u != "" {
		t, err := time.Parse(time.RFC3339, u)
		if err != nil {
			return c.AbortBadRequest("until must be RFC 3339")
		}
		filter.Until = t
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return c.AbortBadRequest("invalid limit")
		}
		filter.Limit = n
	}

	entries, err := g.auditStore.Query(c.Context(), filter)
	if err != nil {
		return c.AbortInternalServerError("failed to query audit log")
	}

	resp := make([]AuditEntryResponse, len(entries))
	for i := range entries {
		resp[i] = toAuditResponse(&entries[i])
	}
	return c.OK(resp)
}
