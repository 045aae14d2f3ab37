package taskqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/security"
)

func testScheduler() (*Scheduler, *MemoryScheduleStore, *Queue) {
	store := NewMemoryScheduleStore()
	queue := NewQueue(NewMemoryStore(), nil, discard)
	return NewScheduler(store, queue, SchedulerConfig{}, discard), store, queue
}

func TestCreateSchedule_RejectsBadCron(t *testing.T) {
	s, _, _ := testScheduler()
	_, err := s.CreateSchedule(context.Background(), "nightly-sync", uuid.New(), security.RoleVendorManager, "calendar.sync", nil, "not a cron")
	if err == nil {
		t.Fatal("invalid cron expression must be rejected")
	}
}

func TestCreateSchedule_ComputesNextRun(t *testing.T) {
	s, _, _ := testScheduler()
	sched, err := s.CreateSchedule(context.Background(), "nightly-sync", uuid.New(), security.RoleVendorManager, "calendar.sync",
		json.RawMessage(`{"vendor_id":"v1"}`), "0 3 * * *")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sched.NextRunAt.IsZero() || !sched.NextRunAt.After(time.Now().UTC()) {
		t.Errorf("next_run_at = %v, want a future time", sched.NextRunAt)
	}
	if sched.NextRunAt.Hour() != 3 {
		t.Errorf("next_run_at hour = %d, want 3", sched.NextRunAt.Hour())
	}
}

func TestTick_FiresDueScheduleOnce(t *testing.T) {
	ctx := context.Background()
	s, store, queue := testScheduler()

	sched, err := s.CreateSchedule(ctx, "minutely", uuid.New(), security.RoleVendorManager, "calendar.sync",
		json.RawMessage(`{"vendor_id":"v1"}`), "* * * * *")
	if err != nil {
		t.Fatal(err)
	}
	// Force the schedule due.
	if err := store.MarkFired(ctx, sched.ID, time.Time{}, time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	s.Tick(ctx)

	tasks, err := queue.List(ctx, Filter{Tool: "calendar.sync"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks enqueued = %d, want 1", len(tasks))
	}
	if tasks[0].Role != security.RoleVendorManager {
		t.Errorf("fired task role = %q, want VENDOR_MANAGER", tasks[0].Role)
	}

	// Role-filtered listings must include schedule-born tasks.
	byRole, err := queue.List(ctx, Filter{Role: security.RoleVendorManager})
	if err != nil {
		t.Fatal(err)
	}
	if len(byRole) != 1 {
		t.Errorf("role filter returned %d tasks, want 1", len(byRole))
	}

	// Advanced past now: the next tick must not re-fire.
	updated, _ := store.Get(ctx, sched.ID)
	if !updated.NextRunAt.After(time.Now().UTC().Add(-time.Second)) {
		t.Errorf("next_run_at not advanced: %v", updated.NextRunAt)
	}
	s.Tick(ctx)
	tasks, _ = queue.List(ctx, Filter{Tool: "calendar.sync"})
	if len(tasks) != 1 {
		t.Errorf("second tick enqueued again: %d tasks", len(tasks))
	}
}

func TestTick_SkipsDisabledSchedules(t *testing.T) {
	ctx := context.Background()
	s, store, queue := testScheduler()

	sched, err := s.CreateSchedule(ctx, "weekly-report", uuid.New(), security.RoleMarketing, "marketing.campaign", nil, "* * * * *")
	if err != nil {
		t.Fatal(err)
	}
	store.MarkFired(ctx, sched.ID, time.Time{}, time.Now().UTC().Add(-time.Minute))
	if err := store.SetEnabled(ctx, sched.ID, false); err != nil {
		t.Fatal(err)
	}

	s.Tick(ctx)

	tasks, _ := queue.List(ctx, Filter{})
	if len(tasks) != 0 {
		t.Errorf("disabled schedule fired: %d tasks", len(tasks))
	}
}

func TestComputeNextRun(t *testing.T) {
	from := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	next, err := ComputeNextRun("0 */6 * * *", from)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}
