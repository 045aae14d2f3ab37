package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/karibuhq/karibu/internal/security"
)

// AuditRepository implements security.AuditStore with GORM.
// Append-only: the repository exposes no update or delete path.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes a single audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry security.AuditEntry) error {
	model := toAuditModel(entry)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching the filter, newest first.
func (r *AuditRepository) Query(ctx context.Context, filter security.AuditFilter) ([]security.AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).Model(&AuditEntryModel{})
	if filter.AgentID != uuid.Nil {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at <= ?", filter.Until)
	}

	var models []AuditEntryModel
	if err := q.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	out := make([]security.AuditEntry, len(models))
	for i := range models {
		out[i] = toAuditDomain(&models[i])
	}
	return out, nil
}

// compile-time interface check
var _ security.AuditStore = (*AuditRepository)(nil)
