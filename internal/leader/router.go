package leader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/taskqueue"
	"github.com/karibuhq/karibu/internal/tools"
)

// route binds a lead type to the role and tool that should handle it.
type route struct {
	role security.Role
	tool string
}

// routes maps every lead type. Enforcement happens at dispatch: the
// payment route targets FINANCE even though finance.refund needs an
// elevated role, so an unauthorized routing shows up as a denied
// invocation in the audit log instead of a silently dropped lead.
var routes = map[LeadType]route{
	LeadVendorOnboarding: {security.RoleVendorManager, "vendors.create"},
	LeadBookingRequest:   {security.RoleBookingManager, "bookings.create"},
	LeadCalendarSync:     {security.RoleVendorManager, "calendar.sync"},
	LeadPricingUpdate:    {security.RoleVendorManager, "pricing.update"},
	LeadMarketingRequest: {security.RoleMarketing, "marketing.campaign"},
	LeadSupportIssue:     {security.RoleSupport, "support.ticket"},
	LeadPaymentRequest:   {security.RoleFinance, "finance.refund"},
	LeadGeneralInquiry:   {security.RoleSupport, "support.ticket"},
}

// Message is one inbound free-text message with sender metadata.
type Message struct {
	Text   string `json:"text"`
	Sender Sender `json:"sender"`
}

// Result describes what the router did with a message.
type Result struct {
	LeadType LeadType        `json:"lead_type"`
	Fields   Fields          `json:"fields"`
	TaskID   uuid.UUID       `json:"task_id"`
	Tool     string          `json:"tool"`
	Role     security.Role   `json:"role"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Router classifies inbound messages and enqueues tasks for the service
// agent registered for the target role.
type Router struct {
	queue      *taskqueue.Queue
	roleAgents map[security.Role]uuid.UUID
	logger     *slog.Logger
}

// NewRouter creates a Router. roleAgents maps each routable role to the
// service agent the resulting task runs as.
func NewRouter(queue *taskqueue.Queue, roleAgents map[security.Role]uuid.UUID, logger *slog.Logger) *Router {
	return &Router{queue: queue, roleAgents: roleAgents, logger: logger}
}

// Process classifies, extracts and routes one message. A message that
// cannot be routed to its natural role falls back to the support route;
// only a queue failure surfaces as an error.
func (r *Router) Process(ctx context.Context, msg Message) (*Result, error) {
	leadType := Classify(msg.Text)
	fields := Extract(msg.Text)

	rt := routes[leadType]
	agentID, ok := r.roleAgents[rt.role]
	if !ok {
		r.logger.WarnContext(ctx, "no service agent for role, routing lead to support",
			slog.String("lead_type", string(leadType)),
			slog.String("role", string(rt.role)),
		)
		rt = routes[LeadGeneralInquiry]
		agentID, ok = r.roleAgents[rt.role]
		if !ok {
			return nil, fmt.Errorf("no service agent registered for role %s", rt.role)
		}
	}

	payload, err := buildPayload(leadType, rt.tool, msg, fields)
	if err != nil {
		return nil, fmt.Errorf("building payload for %s: %w", leadType, err)
	}

	task, created, err := r.queue.Enqueue(ctx, taskqueue.EnqueueRequest{
		AgentID: agentID,
		Role:    rt.role,
		Tool:    rt.tool,
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueueing lead task: %w", err)
	}

	r.logger.InfoContext(ctx, "lead routed",
		slog.String("lead_type", string(leadType)),
		slog.String("tool", rt.tool),
		slog.String("role", string(rt.role)),
		slog.String("task_id", task.ID.String()),
		slog.Bool("deduplicated", !created),
		slog.String("sender_id", msg.Sender.SenderID),
	)

	return &Result{
		LeadType: leadType,
		Fields:   fields,
		TaskID:   task.ID,
		Tool:     rt.tool,
		Role:     rt.role,
		Payload:  payload,
	}, nil
}

// buildPayload shapes the extracted fields into the target tool's
// payload. Best-effort: fields the message did not contain stay empty
// and surface later as a validation failure on the task, which is
// visible to operators rather than silently discarded.
func buildPayload(leadType LeadType, tool string, msg Message, f Fields) (json.RawMessage, error) {
	switch tool {
	case "vendors.create":
		return json.Marshal(tools.CreateVendorPayload{
			Name:         msg.Sender.DisplayName,
			ContactEmail: f.Email,
			Phone:        f.Phone,
		})
	case "bookings.create":
		return json.Marshal(tools.CreateBookingPayload{
			CustomerName:  msg.Sender.DisplayName,
			CustomerEmail: f.Email,
			TourDate:      f.StartDate,
			PartySize:     1,
			Notes:         msg.Text,
		})
	case "calendar.sync":
		return json.Marshal(tools.SyncCalendarPayload{
			VendorID: msg.Sender.SenderID,
		})
	case "pricing.update":
		return json.Marshal(tools.UpdatePricingPayload{
			VendorID: msg.Sender.SenderID,
			Currency: f.Currency,
			Amount:   f.Amount,
		})
	case "marketing.campaign":
		return json.Marshal(tools.CampaignPayload{
			Name:     fmt.Sprintf("lead-%s", msg.Sender.SenderID),
			Channel:  "email",
			Audience: "leads",
			Content:  msg.Text,
		})
	case "support.ticket":
		return json.Marshal(tools.TicketPayload{
			Subject:       fmt.Sprintf("%s from %s", leadType, msg.Sender.DisplayName),
			Body:          msg.Text,
			CustomerEmail: f.Email,
		})
	case "finance.refund":
		return json.Marshal(tools.RefundPayload{
			BookingID: f.BookingRef,
			Amount:    f.Amount,
			Currency:  f.Currency,
			Reason:    msg.Text,
		})
	default:
		return nil, fmt.Errorf("no payload shape for tool %q", tool)
	}
}
