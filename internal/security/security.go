// Package security implements default-deny permission enforcement and the
// append-only audit trail for Karibu's agent tool invocations.
package security

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for permission enforcement.
var (
	// ErrUnknownTool is returned for tool names absent from the policy
	// table. Unknown tools are always denied (fail-closed).
	ErrUnknownTool = errors.New("unknown tool")

	// ErrRoleNotPermitted is returned when the agent's role is not in the
	// tool's allowed set.
	ErrRoleNotPermitted = errors.New("role not permitted")

	// ErrInsufficientRiskTier is returned when the role may use the base
	// tool but the tool is high-risk and the role is outside the elevated set.
	ErrInsufficientRiskTier = errors.New("insufficient risk tier")
)

// Role is a fixed agent role in the vendor-management platform.
type Role string

const (
	RoleOwner          Role = "OWNER"
	RoleLeader         Role = "LEADER"
	RoleFinance        Role = "FINANCE"
	RoleBookingManager Role = "BOOKING_MANAGER"
	RoleMarketing      Role = "MARKETING"
	RoleSupport        Role = "SUPPORT"
	RoleVendorManager  Role = "VENDOR_MANAGER"
)

// AllRoles lists every valid role, used for validation at credential bootstrap.
var AllRoles = []Role{
	RoleOwner,
	RoleLeader,
	RoleFinance,
	RoleBookingManager,
	RoleMarketing,
	RoleSupport,
	RoleVendorManager,
}

// ParseRole validates a role string. Unrecognized values are rejected —
// there is no default role (default-deny principle).
func ParseRole(s string) (Role, bool) {
	for _, r := range AllRoles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// AuditStatus is the outcome recorded for a single invocation attempt.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "SUCCESS"
	AuditFailed  AuditStatus = "FAILED"
	AuditDenied  AuditStatus = "DENIED"
)

// AuditEntry is a single record in the append-only audit log.
// One entry is written per invocation attempt, never per task: a task
// retried three times produces three entries.
type AuditEntry struct {
	ID             uuid.UUID   `json:"id"`
	AgentID        uuid.UUID   `json:"agent_id"`
	Tool           string      `json:"tool"`
	Status         AuditStatus `json:"status"`
	Cached         bool        `json:"cached,omitempty"` // Result served from the idempotency ledger.
	Reason         string      `json:"reason,omitempty"` // Denial reason or error summary.
	PayloadSummary string      `json:"payload_summary,omitempty"`
	ResultSummary  string      `json:"result_summary,omitempty"`
	CorrelationID  string      `json:"correlation_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
