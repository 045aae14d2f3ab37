package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// TicketPayload is the input for support.ticket.
type TicketPayload struct {
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	CustomerEmail string `json:"customer_email,omitempty"`
	Priority      string `json:"priority,omitempty"` // low, normal or high, default normal
}

// TicketResult is returned when a ticket is opened.
type TicketResult struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
}

// SupportService is the upstream surface the ticket tool calls.
type SupportService interface {
	OpenTicket(ctx context.Context, p TicketPayload) (*TicketResult, error)
}

var ticketPriorities = map[string]bool{"low": true, "normal": true, "high": true}

// OpenTicketTool opens a support ticket in the helpdesk.
type OpenTicketTool struct {
	svc    SupportService
	logger *slog.Logger
}

// NewOpenTicketTool creates a support.ticket tool.
func NewOpenTicketTool(svc SupportService, logger *slog.Logger) *OpenTicketTool {
	return &OpenTicketTool{svc: svc, logger: logger}
}

func (t *OpenTicketTool) Name() string { return "support.ticket" }

func (t *OpenTicketTool) Description() string {
	return "Open a support ticket in the helpdesk on behalf of a customer or vendor."
}

func (t *OpenTicketTool) Validate(payload json.RawMessage) error {
	var p TicketPayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.Subject == "" || p.Body == "" {
		return fmt.Errorf("subject and body are required")
	}
	if p.Priority != "" && !ticketPriorities[p.Priority] {
		return fmt.Errorf("priority must be one of low, normal, high")
	}
	return nil
}

func (t *OpenTicketTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p TicketPayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	if p.Priority == "" {
		p.Priority = "normal"
	}
	res, err := t.svc.OpenTicket(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "support ticket opened",
		slog.String("ticket_id", res.TicketID),
		slog.String("priority", p.Priority),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: fmt.Sprintf("opened ticket %s: %s", res.TicketID, p.Subject),
	}, nil
}

var _ Tool = (*OpenTicketTool)(nil)
