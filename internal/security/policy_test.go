package security

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testPolicy() *Policy {
	return NewPolicy(DefaultPolicies(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAuthorize_AllowedRole(t *testing.T) {
	p := testPolicy()
	if err := p.Authorize(context.Background(), RoleBookingManager, "bookings.create"); err != nil {
		t.Fatalf("expected allow, got: %v", err)
	}
}

func TestAuthorize_UnknownToolDenied(t *testing.T) {
	p := testPolicy()
	err := p.Authorize(context.Background(), RoleOwner, "vendors.obliterate")
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got: %v", err)
	}
}

func TestAuthorize_RoleNotPermitted(t *testing.T) {
	p := testPolicy()
	err := p.Authorize(context.Background(), RoleMarketing, "finance.charge")
	if !errors.Is(err, ErrRoleNotPermitted) {
		t.Fatalf("expected ErrRoleNotPermitted, got: %v", err)
	}
}

func TestAuthorize_HighRiskRequiresElevatedRole(t *testing.T) {
	p := testPolicy()

	// FINANCE may invoke the base tool, but finance.refund is high-risk
	// and FINANCE is not in the elevated set. The denial reason must be
	// distinguishable from role-not-permitted.
	err := p.Authorize(context.Background(), RoleFinance, "finance.refund")
	if !errors.Is(err, ErrInsufficientRiskTier) {
		t.Fatalf("expected ErrInsufficientRiskTier, got: %v", err)
	}

	if err := p.Authorize(context.Background(), RoleOwner, "finance.refund"); err != nil {
		t.Fatalf("OWNER should pass elevated check, got: %v", err)
	}
	if err := p.Authorize(context.Background(), RoleLeader, "finance.refund"); err != nil {
		t.Fatalf("LEADER should pass elevated check, got: %v", err)
	}
}

func TestAuthorize_Table(t *testing.T) {
	p := testPolicy()
	cases := []struct {
		role Role
		tool string
		want error // nil = allowed
	}{
		{RoleVendorManager, "vendors.create", nil},
		{RoleVendorManager, "vendors.suspend", ErrInsufficientRiskTier},
		{RoleSupport, "vendors.create", ErrRoleNotPermitted},
		{RoleSupport, "support.ticket", nil},
		{RoleFinance, "finance.charge", nil},
		{RoleBookingManager, "calendar.sync", nil},
		{RoleMarketing, "marketing.campaign", nil},
		{RoleMarketing, "vendors.suspend", ErrRoleNotPermitted},
	}
	for _, tc := range cases {
		err := p.Authorize(context.Background(), tc.role, tc.tool)
		if tc.want == nil && err != nil {
			t.Errorf("%s/%s: expected allow, got %v", tc.role, tc.tool, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("%s/%s: expected %v, got %v", tc.role, tc.tool, tc.want, err)
		}
	}
}

func TestIsHighRisk(t *testing.T) {
	p := testPolicy()
	if !p.IsHighRisk("finance.refund") {
		t.Error("finance.refund should be high-risk")
	}
	if p.IsHighRisk("bookings.create") {
		t.Error("bookings.create should not be high-risk")
	}
	if p.IsHighRisk("no.such.tool") {
		t.Error("unknown tool should report false")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("FINANCE"); !ok || r != RoleFinance {
		t.Errorf("ParseRole(FINANCE) = %v, %v", r, ok)
	}
	if _, ok := ParseRole("finance"); ok {
		t.Error("role parsing must be exact, got match for lowercase")
	}
	if _, ok := ParseRole("INTERN"); ok {
		t.Error("unknown role must not parse")
	}
}
