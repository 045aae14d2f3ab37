package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/karibuhq/karibu/internal/identity"
)

// IdentityRepository implements identity.Store with GORM.
type IdentityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository creates an IdentityRepository.
func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create persists a new agent identity.
func (r *IdentityRepository) Create(ctx context.Context, agent *identity.AgentIdentity) error {
	model := toIdentityModel(agent)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating agent identity: %w", err)
	}
	return nil
}

// GetByID retrieves an identity by its UUID.
func (r *IdentityRepository) GetByID(ctx context.Context, id uuid.UUID) (*identity.AgentIdentity, error) {
	var model AgentIdentityModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrAgentNotFound
		}
		return nil, fmt.Errorf("getting agent identity %s: %w", id, err)
	}
	return toIdentityDomain(&model), nil
}

// GetByCredentialHash retrieves an identity by the hash of its secret.
func (r *IdentityRepository) GetByCredentialHash(ctx context.Context, hash string) (*identity.AgentIdentity, error) {
	var model AgentIdentityModel
	if err := r.db.WithContext(ctx).
		Where("credential_hash = ?", hash).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrAgentNotFound
		}
		return nil, fmt.Errorf("getting agent identity by credential: %w", err)
	}
	return toIdentityDomain(&model), nil
}

// List returns all identities, oldest first.
func (r *IdentityRepository) List(ctx context.Context) ([]identity.AgentIdentity, error) {
	var models []AgentIdentityModel
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing agent identities: %w", err)
	}
	out := make([]identity.AgentIdentity, len(models))
	for i := range models {
		out[i] = *toIdentityDomain(&models[i])
	}
	return out, nil
}

// SetActive flips the active flag. Identities are never deleted.
func (r *IdentityRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&AgentIdentityModel{}).
		Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("updating agent %s active flag: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return identity.ErrAgentNotFound
	}
	return nil
}

// compile-time interface check
var _ identity.Store = (*IdentityRepository)(nil)
