package httpapi

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/leader"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/taskqueue"
)

func TestToTaskResponse(t *testing.T) {
	now := time.Now().UTC()
	task := &taskqueue.Task{
		ID:             uuid.New(),
		AgentID:        uuid.New(),
		Role:           security.RoleFinance,
		Tool:           "finance.refund",
		Payload:        []byte(`{"booking_id":"789"}`),
		IdempotencyKey: "k-1",
		Status:         taskqueue.StatusSuccess,
		Attempts:       2,
		MaxAttempts:    5,
		NotBefore:      now,
		CompletedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	resp := toTaskResponse(task)
	if resp.ID != task.ID.String() || resp.Status != "SUCCESS" || resp.Attempts != 2 {
		t.Errorf("response = %+v", resp)
	}
	if resp.CompletedAt == nil || !resp.CompletedAt.Equal(now) {
		t.Errorf("completed_at = %v", resp.CompletedAt)
	}

	// A pending task has no completion timestamp.
	task.Status = taskqueue.StatusQueued
	task.CompletedAt = time.Time{}
	if resp := toTaskResponse(task); resp.CompletedAt != nil {
		t.Errorf("queued task completed_at = %v", resp.CompletedAt)
	}
}

func TestToAgentResponse_NeverExposesCredential(t *testing.T) {
	agent := &identity.AgentIdentity{
		ID:             uuid.New(),
		DisplayName:    "support-bot",
		Role:           security.RoleSupport,
		CredentialHash: identity.HashSecret("krb_secret"),
		Active:         true,
	}

	resp := toAgentResponse(agent)
	if resp.DisplayName != "support-bot" || resp.Role != "SUPPORT" || !resp.Active {
		t.Errorf("response = %+v", resp)
	}
}

func TestToLeadResponse(t *testing.T) {
	result := &leader.Result{
		LeadType: leader.LeadBookingRequest,
		Role:     security.RoleBookingManager,
		Tool:     "bookings.create",
		TaskID:   uuid.New(),
	}

	resp := toLeadResponse(result, nil)
	if !resp.Routed || resp.Tool != "bookings.create" || resp.TaskID == "" {
		t.Errorf("response = %+v", resp)
	}

	// A routing failure is still acknowledged, just without a task.
	resp = toLeadResponse(nil, errors.New("no service agent registered for role SUPPORT"))
	if resp.Routed || resp.TaskID != "" {
		t.Errorf("unrouted response = %+v", resp)
	}
}

func TestToScheduleResponse(t *testing.T) {
	now := time.Now().UTC()
	sched := &taskqueue.Schedule{
		ID:        uuid.New(),
		Name:      "nightly-sync",
		AgentID:   uuid.New(),
		Role:      security.RoleVendorManager,
		Tool:      "calendar.sync",
		CronExpr:  "0 3 * * *",
		Enabled:   true,
		NextRunAt: now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}

	resp := toScheduleResponse(sched)
	if resp.CronExpression != "0 3 * * *" || !resp.Enabled || resp.Role != "VENDOR_MANAGER" {
		t.Errorf("response = %+v", resp)
	}
	if resp.LastRunAt != nil {
		t.Errorf("never-fired schedule last_run_at = %v", resp.LastRunAt)
	}

	sched.LastRunAt = now
	if resp := toScheduleResponse(sched); resp.LastRunAt == nil {
		t.Error("fired schedule should report last_run_at")
	}
}
