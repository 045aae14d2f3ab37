package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/karibuhq/karibu/internal/taskqueue"
)

// TaskRepository implements taskqueue.Store with GORM.
//
// Claiming uses per-row conditional updates (UPDATE ... WHERE status =
// 'QUEUED') instead of SELECT FOR UPDATE SKIP LOCKED so the same code
// runs correctly on both PostgreSQL and SQLite: a row the other worker
// already claimed simply reports zero rows affected.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

var activeStatuses = []string{
	string(taskqueue.StatusQueued),
	string(taskqueue.StatusClaimed),
	string(taskqueue.StatusRunning),
}

// InsertOrGetActive inserts the task unless a non-terminal task with the
// same (tool, idempotency key) exists. The partial unique index on active
// rows carries the race: ON CONFLICT DO NOTHING reports atomically
// whether this caller won the insert, so two concurrent enqueues of the
// same key converge on one task.
func (r *TaskRepository) InsertOrGetActive(ctx context.Context, task *taskqueue.Task) (*taskqueue.Task, bool, error) {
	var result *taskqueue.Task
	var inserted bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := toTaskModel(task)
		res := tx.Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "tool"}, {Name: "idempotency_key"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "completed_at IS NULL"}}},
			DoNothing:   true,
		}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			result = toTaskDomain(&model)
			inserted = true
			return nil
		}

		var existing TaskModel
		if err := tx.
			Where("tool = ? AND idempotency_key = ? AND status IN ?", task.Tool, task.IdempotencyKey, activeStatuses).
			First(&existing).Error; err != nil {
			return err
		}
		result = toTaskDomain(&existing)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("inserting task: %w", err)
	}
	return result, inserted, nil
}

// Get returns the task by ID.
func (r *TaskRepository) Get(ctx context.Context, id uuid.UUID) (*taskqueue.Task, error) {
	var model TaskModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, taskqueue.ErrTaskNotFound
		}
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return toTaskDomain(&model), nil
}

// List returns tasks matching the filter, newest first.
func (r *TaskRepository) List(ctx context.Context, filter taskqueue.Filter) ([]taskqueue.Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).Model(&TaskModel{})
	if filter.AgentID != uuid.Nil {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Role != "" {
		q = q.Where("role = ?", string(filter.Role))
	}
	if filter.Tool != "" {
		q = q.Where("tool = ?", filter.Tool)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}

	var models []TaskModel
	if err := q.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	out := make([]taskqueue.Task, len(models))
	for i := range models {
		out[i] = *toTaskDomain(&models[i])
	}
	return out, nil
}

// ClaimDue atomically moves up to limit due QUEUED tasks to CLAIMED for
// the given worker and returns them.
func (r *TaskRepository) ClaimDue(ctx context.Context, workerID string, limit int, now time.Time) ([]taskqueue.Task, error) {
	var candidates []TaskModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND not_before <= ?", string(taskqueue.StatusQueued), now).
		Order("not_before ASC").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("listing due tasks: %w", err)
	}

	claimed := make([]taskqueue.Task, 0, len(candidates))
	for i := range candidates {
		res := r.db.WithContext(ctx).
			Model(&TaskModel{}).
			Where("id = ? AND status = ?", candidates[i].ID, string(taskqueue.StatusQueued)).
			Updates(map[string]any{
				"status":     string(taskqueue.StatusClaimed),
				"claimed_by": workerID,
				"claimed_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claiming task %s: %w", candidates[i].ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Another worker won this row.
			continue
		}
		task, err := r.Get(ctx, candidates[i].ID)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *task)
	}
	return claimed, nil
}

// MarkRunning transitions a claimed task to RUNNING.
func (r *TaskRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("id = ? AND status = ?", id, string(taskqueue.StatusClaimed)).
		Update("status", string(taskqueue.StatusRunning))
	if res.Error != nil {
		return fmt.Errorf("marking task %s running: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return taskqueue.ErrTaskNotFound
	}
	return nil
}

// Complete transitions the task to a terminal status.
func (r *TaskRepository) Complete(ctx context.Context, id uuid.UUID, status taskqueue.Status, lastError string) error {
	res := r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       string(status),
			"last_error":   lastError,
			"completed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("completing task %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return taskqueue.ErrTaskNotFound
	}
	return nil
}

// Requeue returns the task to QUEUED for a later retry attempt.
func (r *TaskRepository) Requeue(ctx context.Context, id uuid.UUID, attempts int, notBefore time.Time, lastError string) error {
	res := r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(taskqueue.StatusQueued),
			"attempts":   attempts,
			"not_before": notBefore,
			"last_error": lastError,
			"claimed_by": "",
			"claimed_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("requeueing task %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return taskqueue.ErrTaskNotFound
	}
	return nil
}

// Cancel transitions a QUEUED task to DEAD with a cancellation reason.
func (r *TaskRepository) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	res := r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("id = ? AND status = ?", id, string(taskqueue.StatusQueued)).
		Updates(map[string]any{
			"status":        string(taskqueue.StatusDead),
			"cancel_reason": reason,
			"completed_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("cancelling task %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return taskqueue.ErrNotCancellable
	}
	return nil
}

// ReclaimStale requeues CLAIMED or RUNNING tasks whose claim is older
// than cutoff.
func (r *TaskRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("status IN ? AND claimed_at < ?",
			[]string{string(taskqueue.StatusClaimed), string(taskqueue.StatusRunning)}, cutoff).
		Updates(map[string]any{
			"status":     string(taskqueue.StatusQueued),
			"claimed_by": "",
			"claimed_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaiming stale tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// compile-time interface check
var _ taskqueue.Store = (*TaskRepository)(nil)
