package security

import (
	"context"
	"fmt"
	"log/slog"
)

// ToolPolicy defines which roles may invoke a tool and whether the tool
// is high-risk. High-risk tools additionally require the role to be in
// the elevated set, even when the base permission would allow it.
type ToolPolicy struct {
	Allowed  []Role
	HighRisk bool
	Elevated []Role // Only consulted when HighRisk is true.
}

// DefaultPolicies is the static permission table for the curated tool set.
// A tool not present here is implicitly denied.
func DefaultPolicies() map[string]ToolPolicy {
	return map[string]ToolPolicy{
		"vendors.create": {
			Allowed: []Role{RoleOwner, RoleLeader, RoleVendorManager},
		},
		"vendors.suspend": {
			Allowed:  []Role{RoleOwner, RoleLeader, RoleVendorManager},
			HighRisk: true,
			Elevated: []Role{RoleOwner, RoleLeader},
		},
		"bookings.create": {
			Allowed: []Role{RoleOwner, RoleLeader, RoleBookingManager},
		},
		"bookings.cancel": {
			Allowed: []Role{RoleOwner, RoleLeader, RoleBookingManager},
		},
		"calendar.sync": {
			Allowed: []Role{RoleOwner, RoleLeader, RoleBookingManager, RoleVendorManager},
		},
		"pricing.update": {
			Allowed: []Role{RoleOwner, RoleLeader, RoleFinance, RoleVendorManager},
		},
		"finance.charge": {
			Allowed: []Role{RoleOwner, RoleFinance},
		},
		"finance.refund": {
			Allowed:  []Role{RoleOwner, RoleLeader, RoleFinance},
			HighRisk: true,
			Elevated: []Role{RoleOwner, RoleLeader},
		},
		"marketing.campaign": {
			Allowed: []Role{RoleOwner, RoleLeader, RoleMarketing},
		},
		"support.ticket": {
			Allowed: []Role{RoleOwner, RoleLeader, RoleSupport, RoleBookingManager, RoleVendorManager},
		},
		"messaging.send": {
			Allowed: []Role{RoleOwner, RoleLeader, RoleMarketing, RoleSupport},
		},
		"ai.complete": {
			Allowed: []Role{RoleOwner, RoleLeader, RoleMarketing, RoleSupport},
		},
	}
}

// Policy enforces the static role/tool permission table.
// The table is immutable after construction; Authorize is safe for
// concurrent use.
type Policy struct {
	tools  map[string]ToolPolicy
	logger *slog.Logger
}

// NewPolicy creates a Policy from the given table.
func NewPolicy(tools map[string]ToolPolicy, logger *slog.Logger) *Policy {
	return &Policy{tools: tools, logger: logger}
}

// Authorize returns nil if role may invoke tool. Denials are
// distinguishable by error kind for audit clarity:
// ErrUnknownTool, ErrRoleNotPermitted, or ErrInsufficientRiskTier.
func (p *Policy) Authorize(ctx context.Context, role Role, tool string) error {
	tp, ok := p.tools[tool]
	if !ok {
		p.logger.WarnContext(ctx, "authorization denied: tool not in policy table",
			slog.String("role", string(role)),
			slog.String("tool", tool),
		)
		return fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}

	if !containsRole(tp.Allowed, role) {
		p.logger.WarnContext(ctx, "authorization denied: role not permitted",
			slog.String("role", string(role)),
			slog.String("tool", tool),
		)
		return fmt.Errorf("%w: role %q may not invoke %q", ErrRoleNotPermitted, role, tool)
	}

	if tp.HighRisk && !containsRole(tp.Elevated, role) {
		p.logger.WarnContext(ctx, "authorization denied: high-risk tool requires elevated role",
			slog.String("role", string(role)),
			slog.String("tool", tool),
		)
		return fmt.Errorf("%w: %q is high-risk, role %q is not elevated", ErrInsufficientRiskTier, tool, role)
	}

	return nil
}

// IsHighRisk reports whether the named tool is flagged high-risk.
// Unknown tools report false; they are denied by Authorize regardless.
func (p *Policy) IsHighRisk(tool string) bool {
	return p.tools[tool].HighRisk
}

// KnownTools returns the tool names present in the policy table.
func (p *Policy) KnownTools() []string {
	names := make([]string, 0, len(p.tools))
	for name := range p.tools {
		names = append(names, name)
	}
	return names
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
