package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/karibuhq/karibu/internal/taskqueue"
)

// ScheduleRepository implements taskqueue.ScheduleStore with GORM.
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a ScheduleRepository.
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Create(ctx context.Context, sched *taskqueue.Schedule) error {
	model := toScheduleModel(sched)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) Get(ctx context.Context, id uuid.UUID) (*taskqueue.Schedule, error) {
	var model TaskScheduleModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, taskqueue.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("getting schedule %s: %w", id, err)
	}
	return toScheduleDomain(&model), nil
}

func (r *ScheduleRepository) List(ctx context.Context) ([]taskqueue.Schedule, error) {
	var models []TaskScheduleModel
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	out := make([]taskqueue.Schedule, len(models))
	for i := range models {
		out[i] = *toScheduleDomain(&models[i])
	}
	return out, nil
}

func (r *ScheduleRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res := r.db.WithContext(ctx).
		Model(&TaskScheduleModel{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("updating schedule %s enabled flag: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return taskqueue.ErrScheduleNotFound
	}
	return nil
}

func (r *ScheduleRepository) Due(ctx context.Context, now time.Time) ([]taskqueue.Schedule, error) {
	var models []TaskScheduleModel
	if err := r.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at <= ?", true, now).
		Order("next_run_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}
	out := make([]taskqueue.Schedule, len(models))
	for i := range models {
		out[i] = *toScheduleDomain(&models[i])
	}
	return out, nil
}

func (r *ScheduleRepository) MarkFired(ctx context.Context, id uuid.UUID, firedAt, nextRun time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&TaskScheduleModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run_at": firedAt,
			"next_run_at": nextRun,
		})
	if res.Error != nil {
		return fmt.Errorf("marking schedule %s fired: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return taskqueue.ErrScheduleNotFound
	}
	return nil
}

// compile-time interface check
var _ taskqueue.ScheduleStore = (*ScheduleRepository)(nil)
