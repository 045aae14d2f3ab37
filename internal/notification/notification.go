// Package notification delivers operator alerts: dead tasks and denied
// high-risk invocations. Delivery is best-effort; a failed send is
// logged and never propagates into the pipeline that triggered it.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/taskqueue"
)

// Message is one alert to deliver.
type Message struct {
	Subject  string            `json:"subject,omitempty"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sender delivers a message over one channel.
type Sender interface {
	Type() string
	Send(ctx context.Context, msg *Message) error
}

// Dispatcher fans a message out to all configured senders.
type Dispatcher struct {
	senders []Sender
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. An empty sender list is valid and
// turns every notification into a no-op.
func NewDispatcher(senders []Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{senders: senders, logger: logger}
}

// Notify sends msg over every channel, logging failures.
func (d *Dispatcher) Notify(ctx context.Context, msg *Message) {
	for _, s := range d.senders {
		if err := s.Send(ctx, msg); err != nil {
			d.logger.WarnContext(ctx, "notification delivery failed",
				slog.String("channel", s.Type()),
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()),
			)
		}
	}
}

// TaskDead alerts operators that a task exhausted its retries.
func (d *Dispatcher) TaskDead(ctx context.Context, task taskqueue.Task) {
	d.Notify(ctx, &Message{
		Subject: fmt.Sprintf("Task dead: %s", task.Tool),
		Body: fmt.Sprintf("Task %s (%s) exhausted %d attempts.\nLast error: %s",
			task.ID, task.Tool, task.MaxAttempts, task.LastError),
		Metadata: map[string]string{
			"type":    "task_dead",
			"task_id": task.ID.String(),
			"tool":    task.Tool,
		},
	})
}

// HighRiskDenied alerts operators that a high-risk tool invocation was
// denied for an under-privileged role.
func (d *Dispatcher) HighRiskDenied(ctx context.Context, agent *identity.AgentIdentity, tool, reason string) {
	d.Notify(ctx, &Message{
		Subject: fmt.Sprintf("High-risk denial: %s", tool),
		Body: fmt.Sprintf("Agent %s (%s, role %s) was denied %s.\nReason: %s",
			agent.DisplayName, agent.ID, agent.Role, tool, reason),
		Metadata: map[string]string{
			"type":     "high_risk_denied",
			"agent_id": agent.ID.String(),
			"tool":     tool,
		},
	})
}
