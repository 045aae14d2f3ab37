package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/karibuhq/karibu/internal/security"
)

// ErrScheduleNotFound is returned for missing schedules.
var ErrScheduleNotFound = errors.New("schedule not found")

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a recurring task template. Each firing enqueues one task
// keyed to the fire time, so a missed tick never fires twice. Role is the
// role of the agent the task runs as; it travels onto every fired task so
// role-filtered listings see schedule-born work.
type Schedule struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	AgentID   uuid.UUID       `json:"agent_id"`
	Role      security.Role   `json:"role"`
	Tool      string          `json:"tool"`
	Payload   json.RawMessage `json:"payload"`
	CronExpr  string          `json:"cron_expr"`
	Enabled   bool            `json:"enabled"`
	NextRunAt time.Time       `json:"next_run_at"`
	LastRunAt time.Time       `json:"last_run_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ScheduleStore persists schedules.
type ScheduleStore interface {
	Create(ctx context.Context, sched *Schedule) error
	Get(ctx context.Context, id uuid.UUID) (*Schedule, error)
	List(ctx context.Context) ([]Schedule, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	// Due returns enabled schedules whose NextRunAt is at or before now.
	Due(ctx context.Context, now time.Time) ([]Schedule, error)
	// MarkFired records a firing and advances NextRunAt.
	MarkFired(ctx context.Context, id uuid.UUID, firedAt, nextRun time.Time) error
}

// ComputeNextRun evaluates a cron expression from the given time.
func ComputeNextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// Scheduler fires due schedules into the task queue.
type Scheduler struct {
	store  ScheduleStore
	queue  *Queue
	config SchedulerConfig
	logger *slog.Logger
}

// SchedulerConfig tunes the scheduler loop.
type SchedulerConfig struct {
	PollInterval time.Duration // Tick cadence. Default: 30s.
}

func (c SchedulerConfig) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 30 * time.Second
}

// NewScheduler creates a Scheduler.
func NewScheduler(store ScheduleStore, queue *Queue, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{store: store, queue: queue, config: cfg, logger: logger}
}

// CreateSchedule validates the cron expression and stores the schedule.
func (s *Scheduler) CreateSchedule(ctx context.Context, name string, agentID uuid.UUID, role security.Role, tool string, payload json.RawMessage, cronExpr string) (*Schedule, error) {
	if name == "" || tool == "" {
		return nil, fmt.Errorf("name and tool are required")
	}
	now := time.Now().UTC()
	next, err := ComputeNextRun(cronExpr, now)
	if err != nil {
		return nil, err
	}

	sched := &Schedule{
		ID:        uuid.New(),
		Name:      name,
		AgentID:   agentID,
		Role:      role,
		Tool:      tool,
		Payload:   payload,
		CronExpr:  cronExpr,
		Enabled:   true,
		NextRunAt: next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, sched); err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}
	s.logger.InfoContext(ctx, "schedule created",
		slog.String("schedule_id", sched.ID.String()),
		slog.String("name", name),
		slog.String("cron", cronExpr),
		slog.Time("next_run_at", next),
	)
	return sched, nil
}

// Run ticks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due schedule once.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.Due(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing due schedules failed", slog.String("error", err.Error()))
		return
	}

	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched Schedule, now time.Time) {
	// Key on the planned fire time: re-running a tick cannot enqueue twice.
	key := fmt.Sprintf("sched:%s:%d", sched.ID, sched.NextRunAt.Unix())

	_, created, err := s.queue.Enqueue(ctx, EnqueueRequest{
		AgentID:        sched.AgentID,
		Role:           sched.Role,
		Tool:           sched.Tool,
		Payload:        sched.Payload,
		IdempotencyKey: key,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "firing schedule failed",
			slog.String("schedule_id", sched.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	next, err := ComputeNextRun(sched.CronExpr, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "schedule has unparseable cron expression",
			slog.String("schedule_id", sched.ID.String()),
			slog.String("cron", sched.CronExpr),
		)
		return
	}
	if err := s.store.MarkFired(ctx, sched.ID, now, next); err != nil {
		s.logger.ErrorContext(ctx, "marking schedule fired failed",
			slog.String("schedule_id", sched.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.InfoContext(ctx, "schedule fired",
		slog.String("schedule_id", sched.ID.String()),
		slog.String("name", sched.Name),
		slog.Bool("enqueued", created),
		slog.Time("next_run_at", next),
	)
}

// MemoryScheduleStore is an in-memory ScheduleStore for tests and
// single-process development runs.
type MemoryScheduleStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*Schedule
}

// NewMemoryScheduleStore creates an empty in-memory schedule store.
func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{schedules: make(map[uuid.UUID]*Schedule)}
}

func (s *MemoryScheduleStore) Create(_ context.Context, sched *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *MemoryScheduleStore) Get(_ context.Context, id uuid.UUID) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	cp := *sched
	return &cp, nil
}

func (s *MemoryScheduleStore) List(_ context.Context) ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryScheduleStore) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return ErrScheduleNotFound
	}
	sched.Enabled = enabled
	sched.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryScheduleStore) Due(_ context.Context, now time.Time) ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Schedule
	for _, sched := range s.schedules {
		if sched.Enabled && !sched.NextRunAt.After(now) {
			out = append(out, *sched)
		}
	}
	return out, nil
}

func (s *MemoryScheduleStore) MarkFired(_ context.Context, id uuid.UUID, firedAt, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return ErrScheduleNotFound
	}
	sched.LastRunAt = firedAt
	sched.NextRunAt = nextRun
	sched.UpdatedAt = time.Now().UTC()
	return nil
}

// Compile-time check.
var _ ScheduleStore = (*MemoryScheduleStore)(nil)
