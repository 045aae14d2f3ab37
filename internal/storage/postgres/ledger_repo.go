package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/karibuhq/karibu/internal/ledger"
)

// LedgerRepository implements ledger.Store with GORM.
// The insert-if-absent contract rides on the composite primary key:
// ON CONFLICT DO NOTHING tells us atomically whether we won the insert.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a LedgerRepository.
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// InsertPending inserts a pending record unless an unexpired record for
// (tool, key) already exists.
func (r *LedgerRepository) InsertPending(ctx context.Context, rec ledger.Record) (*ledger.Record, bool, error) {
	var existing *ledger.Record
	var inserted bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// An expired row for the same key must not block the new reservation.
		if err := tx.
			Where("tool = ? AND idempotency_key = ? AND expires_at <= ?", rec.Tool, rec.Key, rec.CreatedAt).
			Delete(&IdempotencyRecordModel{}).Error; err != nil {
			return err
		}

		model := toLedgerModel(rec)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			inserted = true
			return nil
		}

		var found IdempotencyRecordModel
		if err := tx.
			Where("tool = ? AND idempotency_key = ?", rec.Tool, rec.Key).
			First(&found).Error; err != nil {
			return err
		}
		existing = toLedgerDomain(&found)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("inserting pending ledger record: %w", err)
	}
	return existing, inserted, nil
}

// Get returns the unexpired record for (tool, key).
func (r *LedgerRepository) Get(ctx context.Context, tool, key string) (*ledger.Record, error) {
	var model IdempotencyRecordModel
	if err := r.db.WithContext(ctx).
		Where("tool = ? AND idempotency_key = ? AND expires_at > ?", tool, key, time.Now().UTC()).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting ledger record: %w", err)
	}
	return toLedgerDomain(&model), nil
}

// Commit marks the pending record committed with the given outcome.
func (r *LedgerRepository) Commit(ctx context.Context, tool, key, fingerprint string, outcome ledger.Outcome) error {
	res := r.db.WithContext(ctx).
		Model(&IdempotencyRecordModel{}).
		Where("tool = ? AND idempotency_key = ? AND fingerprint = ? AND committed = ?", tool, key, fingerprint, false).
		Updates(map[string]any{
			"committed":      true,
			"outcome_status": string(outcome.Status),
			"outcome_result": JSONB(outcome.Result),
			"outcome_error":  outcome.Error,
		})
	if res.Error != nil {
		return fmt.Errorf("committing ledger record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrRecordNotFound
	}
	return nil
}

// Delete removes the record for (tool, key).
func (r *LedgerRepository) Delete(ctx context.Context, tool, key string) error {
	res := r.db.WithContext(ctx).
		Where("tool = ? AND idempotency_key = ?", tool, key).
		Delete(&IdempotencyRecordModel{})
	if res.Error != nil {
		return fmt.Errorf("deleting ledger record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrRecordNotFound
	}
	return nil
}

// DeleteExpired removes records whose ExpiresAt has passed.
func (r *LedgerRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&IdempotencyRecordModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting expired ledger records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// compile-time interface check
var _ ledger.Store = (*LedgerRepository)(nil)
