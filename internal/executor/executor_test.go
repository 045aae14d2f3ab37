package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/ledger"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/tools"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// stubTool is a scriptable tool for pipeline tests.
type stubTool struct {
	name     string
	execErr  error
	execs    int
	validate func(json.RawMessage) error
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }

func (s *stubTool) Validate(payload json.RawMessage) error {
	if s.validate != nil {
		return s.validate(payload)
	}
	return nil
}

func (s *stubTool) Execute(_ context.Context, _ json.RawMessage) (*tools.Result, error) {
	s.execs++
	if s.execErr != nil {
		return nil, s.execErr
	}
	return &tools.Result{Output: json.RawMessage(`{"ok":true}`), Summary: "done"}, nil
}

type stubNotifier struct {
	denials int
}

func (n *stubNotifier) HighRiskDenied(context.Context, *identity.AgentIdentity, string, string) {
	n.denials++
}

type harness struct {
	exec     *Executor
	audit    *security.MemoryAuditStore
	notifier *stubNotifier
	tool     *stubTool
}

func newHarness(t *testing.T, tool *stubTool) *harness {
	t.Helper()
	reg := tools.NewRegistry()
	reg.Register(tool)
	audit := security.NewMemoryAuditStore()
	notifier := &stubNotifier{}
	exec := New(
		security.NewPolicy(security.DefaultPolicies(), discard),
		reg,
		ledger.New(ledger.NewMemoryStore(), ledger.Config{}, discard),
		audit,
		notifier,
		nil,
		Config{},
		discard,
	)
	return &harness{exec: exec, audit: audit, notifier: notifier, tool: tool}
}

func agentWithRole(role security.Role) *identity.AgentIdentity {
	return &identity.AgentIdentity{ID: uuid.New(), DisplayName: "test-agent", Role: role, Active: true}
}

func lastAudit(t *testing.T, store *security.MemoryAuditStore) security.AuditEntry {
	t.Helper()
	entries, err := store.Query(context.Background(), security.AuditFilter{Limit: 1})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no audit entries written")
	}
	return entries[0]
}

func TestInvoke_SuccessThenCachedReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &stubTool{name: "bookings.create"})
	agent := agentWithRole(security.RoleBookingManager)
	payload := json.RawMessage(`{"vendor_id":"v1"}`)

	inv, err := h.exec.Invoke(ctx, agent, "bookings.create", payload, "K1")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if inv.Cached || inv.Status != ledger.OutcomeSuccess {
		t.Fatalf("first invoke: %+v", inv)
	}
	if e := lastAudit(t, h.audit); e.Status != security.AuditSuccess || e.Cached {
		t.Errorf("audit entry = %+v, want fresh SUCCESS", e)
	}

	inv2, err := h.exec.Invoke(ctx, agent, "bookings.create", payload, "K1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !inv2.Cached {
		t.Fatal("replay must be served from the ledger")
	}
	if h.tool.execs != 1 {
		t.Fatalf("tool executed %d times, want 1", h.tool.execs)
	}
	if e := lastAudit(t, h.audit); !e.Cached {
		t.Error("replay audit entry must be marked cached")
	}
}

func TestInvoke_DeniedDoesNotConsumeKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &stubTool{name: "finance.refund"})
	payload := json.RawMessage(`{"booking_id":"b1"}`)

	// FINANCE may use the tool family but refund is high-risk.
	_, err := h.exec.Invoke(ctx, agentWithRole(security.RoleFinance), "finance.refund", payload, "K1")
	if !errors.Is(err, security.ErrInsufficientRiskTier) {
		t.Fatalf("expected ErrInsufficientRiskTier, got: %v", err)
	}
	if h.tool.execs != 0 {
		t.Fatal("denied invocation must not execute the tool")
	}
	if e := lastAudit(t, h.audit); e.Status != security.AuditDenied {
		t.Errorf("audit status = %s, want DENIED", e.Status)
	}
	if h.notifier.denials != 1 {
		t.Errorf("high-risk denial notifications = %d, want 1", h.notifier.denials)
	}

	// The same key is still fresh for an elevated agent.
	inv, err := h.exec.Invoke(ctx, agentWithRole(security.RoleOwner), "finance.refund", payload, "K1")
	if err != nil {
		t.Fatalf("owner invoke: %v", err)
	}
	if inv.Cached {
		t.Fatal("denial must not have consumed the idempotency key")
	}
}

func TestInvoke_RoleNotPermitted(t *testing.T) {
	h := newHarness(t, &stubTool{name: "finance.charge"})
	_, err := h.exec.Invoke(context.Background(), agentWithRole(security.RoleMarketing), "finance.charge", json.RawMessage(`{}`), "")
	if !errors.Is(err, security.ErrRoleNotPermitted) {
		t.Fatalf("expected ErrRoleNotPermitted, got: %v", err)
	}
	if h.notifier.denials != 0 {
		t.Error("base permission denial must not page anyone")
	}
}

func TestInvoke_UnknownTool(t *testing.T) {
	h := newHarness(t, &stubTool{name: "bookings.create"})
	_, err := h.exec.Invoke(context.Background(), agentWithRole(security.RoleOwner), "db.drop", json.RawMessage(`{}`), "")
	if !errors.Is(err, security.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got: %v", err)
	}
}

func TestInvoke_ValidationFailureCommitsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &stubTool{
		name:     "bookings.create",
		validate: func(json.RawMessage) error { return fmt.Errorf("party_size must be at least 1") },
	})
	agent := agentWithRole(security.RoleBookingManager)
	payload := json.RawMessage(`{"party_size":0}`)

	_, err := h.exec.Invoke(ctx, agent, "bookings.create", payload, "K1")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got: %v", err)
	}
	if h.tool.execs != 0 {
		t.Fatal("invalid payload must not execute")
	}

	// The rejection is terminal: replaying the same payload serves the
	// recorded failure instead of validating again.
	h.tool.validate = nil
	inv, err := h.exec.Invoke(ctx, agent, "bookings.create", payload, "K1")
	if !errors.Is(err, ErrCachedFailure) {
		t.Fatalf("expected ErrCachedFailure on replay, got: %v", err)
	}
	if inv == nil || !inv.Cached || inv.Status != ledger.OutcomeFailed {
		t.Fatalf("replay = %+v, want cached failure", inv)
	}
	if h.tool.execs != 0 {
		t.Fatal("replayed rejection must not execute")
	}
}

func TestInvoke_TerminalFailureReplayIsAnError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &stubTool{name: "bookings.cancel", execErr: fmt.Errorf("booking already cancelled")})
	agent := agentWithRole(security.RoleBookingManager)
	payload := json.RawMessage(`{"booking_id":"b1"}`)

	if _, err := h.exec.Invoke(ctx, agent, "bookings.cancel", payload, "K1"); err == nil {
		t.Fatal("expected terminal failure")
	}

	inv, err := h.exec.Invoke(ctx, agent, "bookings.cancel", payload, "K1")
	if !errors.Is(err, ErrCachedFailure) {
		t.Fatalf("replay of terminal failure must fail, got: %v", err)
	}
	if tools.IsRetryable(err) {
		t.Fatal("replayed terminal failure must not be retryable")
	}
	if inv == nil || !inv.Cached || inv.Status != ledger.OutcomeFailed {
		t.Fatalf("replay = %+v, want cached failure", inv)
	}
	if inv.Error == "" {
		t.Fatal("replay must carry the original error text")
	}
	if h.tool.execs != 1 {
		t.Fatalf("tool executed %d times, want 1", h.tool.execs)
	}
}

func TestInvoke_RetryableFailureReleasesKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &stubTool{name: "calendar.sync", execErr: tools.Retryable(fmt.Errorf("upstream 503"))})
	agent := agentWithRole(security.RoleVendorManager)
	payload := json.RawMessage(`{"vendor_id":"v1"}`)

	_, err := h.exec.Invoke(ctx, agent, "calendar.sync", payload, "K1")
	if !tools.IsRetryable(err) {
		t.Fatalf("expected retryable error, got: %v", err)
	}

	h.tool.execErr = nil
	inv, err := h.exec.Invoke(ctx, agent, "calendar.sync", payload, "K1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if inv.Cached {
		t.Fatal("retry after transient failure must execute fresh")
	}
	if h.tool.execs != 2 {
		t.Fatalf("tool executed %d times, want 2", h.tool.execs)
	}
}

func TestInvoke_DefaultKeyIsPayloadFingerprint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &stubTool{name: "pricing.update"})
	agent := agentWithRole(security.RoleFinance)
	payload := json.RawMessage(`{"vendor_id":"v1","amount":99}`)

	if _, err := h.exec.Invoke(ctx, agent, "pricing.update", payload, ""); err != nil {
		t.Fatalf("first invoke: %v", err)
	}
	inv, err := h.exec.Invoke(ctx, agent, "pricing.update", payload, "")
	if err != nil {
		t.Fatalf("second invoke: %v", err)
	}
	if !inv.Cached {
		t.Fatal("identical payload without explicit key must dedupe")
	}

	// A different payload is a different implicit key, not a conflict.
	inv2, err := h.exec.Invoke(ctx, agent, "pricing.update", json.RawMessage(`{"vendor_id":"v1","amount":120}`), "")
	if err != nil {
		t.Fatalf("different payload: %v", err)
	}
	if inv2.Cached {
		t.Fatal("different payload must execute fresh")
	}
}

func TestInvoke_KeyReuseConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &stubTool{name: "finance.charge"})
	agent := agentWithRole(security.RoleFinance)

	if _, err := h.exec.Invoke(ctx, agent, "finance.charge", json.RawMessage(`{"amount":10}`), "K1"); err != nil {
		t.Fatalf("first invoke: %v", err)
	}
	_, err := h.exec.Invoke(ctx, agent, "finance.charge", json.RawMessage(`{"amount":999}`), "K1")
	if !errors.Is(err, ledger.ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got: %v", err)
	}
	if e := lastAudit(t, h.audit); e.Status != security.AuditFailed {
		t.Errorf("conflict audit status = %s, want FAILED", e.Status)
	}
}
