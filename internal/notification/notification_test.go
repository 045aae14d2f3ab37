package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/taskqueue"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type captureSender struct {
	sent []Message
	err  error
}

func (c *captureSender) Type() string { return "capture" }

func (c *captureSender) Send(_ context.Context, msg *Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, *msg)
	return nil
}

func TestNotify_FansOut(t *testing.T) {
	a, b := &captureSender{}, &captureSender{}
	d := NewDispatcher([]Sender{a, b}, discard)

	d.Notify(context.Background(), &Message{Subject: "s", Body: "b"})

	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("fan-out sent = %d, %d, want 1 each", len(a.sent), len(b.sent))
	}
}

func TestNotify_FailureDoesNotBlockOthers(t *testing.T) {
	bad := &captureSender{err: fmt.Errorf("channel down")}
	good := &captureSender{}
	d := NewDispatcher([]Sender{bad, good}, discard)

	d.Notify(context.Background(), &Message{Body: "b"})

	if len(good.sent) != 1 {
		t.Error("a failing sender must not block the rest")
	}
}

func TestTaskDead(t *testing.T) {
	c := &captureSender{}
	d := NewDispatcher([]Sender{c}, discard)

	d.TaskDead(context.Background(), taskqueue.Task{
		ID:          uuid.New(),
		Tool:        "calendar.sync",
		MaxAttempts: 5,
		LastError:   "upstream 503",
	})

	if len(c.sent) != 1 {
		t.Fatal("no notification sent")
	}
	if c.sent[0].Metadata["type"] != "task_dead" {
		t.Errorf("metadata type = %q", c.sent[0].Metadata["type"])
	}
}

func TestHighRiskDenied(t *testing.T) {
	c := &captureSender{}
	d := NewDispatcher([]Sender{c}, discard)

	d.HighRiskDenied(context.Background(), &identity.AgentIdentity{
		ID:          uuid.New(),
		DisplayName: "finance-bot",
		Role:        security.RoleFinance,
	}, "finance.refund", "insufficient risk tier")

	if len(c.sent) != 1 {
		t.Fatal("no notification sent")
	}
	if c.sent[0].Metadata["type"] != "high_risk_denied" {
		t.Errorf("metadata type = %q", c.sent[0].Metadata["type"])
	}
}

func TestValidateWebhookURL(t *testing.T) {
	cases := []struct {
		url     string
		wantErr bool
	}{
		{"ftp://example.com/hook", true},
		{"http://localhost/hook", true},
		{"http://127.0.0.1/hook", true},
		{"://bad", true},
	}
	for _, tc := range cases {
		if err := validateWebhookURL(tc.url); (err != nil) != tc.wantErr {
			t.Errorf("validateWebhookURL(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
		}
	}
}
