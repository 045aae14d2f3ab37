// Package identity manages agent identities and their credentials.
// Agents authenticate with an opaque secret generated once at bootstrap;
// only a SHA-256 hash of the secret is ever stored. Identities are never
// deleted — deactivation preserves the audit trail.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/security"
)

// Sentinel errors for credential resolution.
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrAgentInactive      = errors.New("agent is inactive")
	ErrAgentNotFound      = errors.New("agent not found")
)

const secretBytes = 32

// AgentIdentity is a non-human credentialed actor with a fixed role.
type AgentIdentity struct {
	ID             uuid.UUID         `json:"id"`
	DisplayName    string            `json:"display_name"`
	Role           security.Role     `json:"role"`
	CredentialHash string            `json:"-"` // SHA-256 hex of the secret. Never the secret itself.
	Active         bool              `json:"active"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Store persists agent identities. Implementations must be safe for
// concurrent use. There is no Delete — identities are soft-disabled.
type Store interface {
	Create(ctx context.Context, agent *AgentIdentity) error
	GetByID(ctx context.Context, id uuid.UUID) (*AgentIdentity, error)
	GetByCredentialHash(ctx context.Context, hash string) (*AgentIdentity, error)
	List(ctx context.Context) ([]AgentIdentity, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Manager resolves presented secrets to identities and performs the
// administrative bootstrap operations.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Resolve maps a presented secret to an active agent identity.
// The secret is hashed and looked up by hash — never the reverse.
// Returns ErrCredentialNotFound for no match, ErrAgentInactive when the
// matched identity is disabled. Read-only: no side effects.
func (m *Manager) Resolve(ctx context.Context, presentedSecret string) (*AgentIdentity, error) {
	agent, err := m.store.GetByCredentialHash(ctx, HashSecret(presentedSecret))
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("resolving credential: %w", err)
	}
	if !agent.Active {
		m.logger.WarnContext(ctx, "credential resolved to inactive agent",
			slog.String("agent_id", agent.ID.String()),
		)
		return nil, fmt.Errorf("%w: %s", ErrAgentInactive, agent.ID)
	}
	return agent, nil
}

// Issue creates a new agent identity and returns it together with the
// one-time plaintext secret. The secret is not retained; only its hash is.
// Administrative operation — callers gate this behind the admin surface.
func (m *Manager) Issue(ctx context.Context, displayName string, role security.Role, metadata map[string]string) (*AgentIdentity, string, error) {
	if displayName == "" {
		return nil, "", fmt.Errorf("display name is required")
	}
	if _, ok := security.ParseRole(string(role)); !ok {
		return nil, "", fmt.Errorf("invalid role %q", role)
	}

	secret, err := newSecret()
	if err != nil {
		return nil, "", fmt.Errorf("generating secret: %w", err)
	}

	now := time.Now().UTC()
	agent := &AgentIdentity{
		ID:             uuid.New(),
		DisplayName:    displayName,
		Role:           role,
		CredentialHash: HashSecret(secret),
		Active:         true,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.store.Create(ctx, agent); err != nil {
		return nil, "", fmt.Errorf("creating agent identity: %w", err)
	}

	m.logger.InfoContext(ctx, "agent identity issued",
		slog.String("agent_id", agent.ID.String()),
		slog.String("role", string(role)),
		slog.String("display_name", displayName),
	)

	return agent, secret, nil
}

// Deactivate soft-disables an agent. Its credential stops resolving but
// the identity row and all audit entries referencing it remain.
func (m *Manager) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := m.store.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("deactivating agent %s: %w", id, err)
	}
	m.logger.InfoContext(ctx, "agent deactivated", slog.String("agent_id", id.String()))
	return nil
}

// Reactivate re-enables a previously deactivated agent.
func (m *Manager) Reactivate(ctx context.Context, id uuid.UUID) error {
	if err := m.store.SetActive(ctx, id, true); err != nil {
		return fmt.Errorf("reactivating agent %s: %w", id, err)
	}
	m.logger.InfoContext(ctx, "agent reactivated", slog.String("agent_id", id.String()))
	return nil
}

// List returns all agent identities.
func (m *Manager) List(ctx context.Context) ([]AgentIdentity, error) {
	return m.store.List(ctx)
}

// Get returns a single agent identity by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*AgentIdentity, error) {
	return m.store.GetByID(ctx, id)
}

// HashSecret returns the hex-encoded SHA-256 hash of a secret.
// The same function is used at bootstrap and at resolution.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "krb_" + hex.EncodeToString(b), nil
}
