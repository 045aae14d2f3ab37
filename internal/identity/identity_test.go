package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/karibuhq/karibu/internal/security"
)

func testManager() *Manager {
	return NewManager(NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIssueAndResolve(t *testing.T) {
	ctx := context.Background()
	m := testManager()

	agent, secret, err := m.Issue(ctx, "booking-bot", security.RoleBookingManager, map[string]string{"channel": "telegram"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(secret, "krb_") {
		t.Errorf("secret missing prefix: %q", secret)
	}
	if agent.CredentialHash == secret {
		t.Fatal("plaintext secret must not be stored")
	}
	if agent.CredentialHash != HashSecret(secret) {
		t.Error("stored hash does not match secret hash")
	}

	resolved, err := m.Resolve(ctx, secret)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != agent.ID {
		t.Errorf("resolved wrong identity: %s != %s", resolved.ID, agent.ID)
	}
	if resolved.Role != security.RoleBookingManager {
		t.Errorf("role = %s, want BOOKING_MANAGER", resolved.Role)
	}
}

func TestResolve_UnknownSecret(t *testing.T) {
	m := testManager()
	_, err := m.Resolve(context.Background(), "krb_nope")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got: %v", err)
	}
}

func TestResolve_InactiveAgent(t *testing.T) {
	ctx := context.Background()
	m := testManager()

	agent, secret, err := m.Issue(ctx, "old-bot", security.RoleSupport, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.Deactivate(ctx, agent.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := m.Resolve(ctx, secret); !errors.Is(err, ErrAgentInactive) {
		t.Fatalf("expected ErrAgentInactive, got: %v", err)
	}

	// Reactivation restores resolution.
	if err := m.Reactivate(ctx, agent.ID); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := m.Resolve(ctx, secret); err != nil {
		t.Fatalf("resolve after reactivate: %v", err)
	}
}

func TestIssue_InvalidRole(t *testing.T) {
	m := testManager()
	if _, _, err := m.Issue(context.Background(), "bad-bot", security.Role("INTERN"), nil); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func TestIssue_UniqueSecrets(t *testing.T) {
	ctx := context.Background()
	m := testManager()
	_, s1, err := m.Issue(ctx, "a", security.RoleSupport, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, s2, err := m.Issue(ctx, "b", security.RoleSupport, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s1 == s2 {
		t.Fatal("two issued secrets must differ")
	}
}
