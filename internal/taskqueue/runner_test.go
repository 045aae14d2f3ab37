package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/executor"
	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/security"
	"github.com/karibuhq/karibu/internal/tools"
)

type scriptedInvoker struct {
	errs  []error // Consumed one per call; nil entry means success.
	calls int
}

func (s *scriptedInvoker) Invoke(_ context.Context, _ *identity.AgentIdentity, _ string, _ json.RawMessage, _ string) (*executor.Invocation, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &executor.Invocation{}, nil
}

type staticAgents struct {
	agents map[uuid.UUID]*identity.AgentIdentity
}

func (s *staticAgents) Get(_ context.Context, id uuid.UUID) (*identity.AgentIdentity, error) {
	agent, ok := s.agents[id]
	if !ok {
		return nil, identity.ErrAgentNotFound
	}
	return agent, nil
}

type deadRecorder struct {
	dead []Task
}

func (d *deadRecorder) TaskDead(_ context.Context, task Task) {
	d.dead = append(d.dead, task)
}

type runnerHarness struct {
	queue    *Queue
	store    *MemoryStore
	runner   *Runner
	invoker  *scriptedInvoker
	notifier *deadRecorder
	agent    *identity.AgentIdentity
}

func newRunnerHarness(invoker *scriptedInvoker) *runnerHarness {
	store := NewMemoryStore()
	agent := &identity.AgentIdentity{ID: uuid.New(), DisplayName: "runner-agent", Role: security.RoleBookingManager, Active: true}
	notifier := &deadRecorder{}
	runner := NewRunner(
		store,
		invoker,
		&staticAgents{agents: map[uuid.UUID]*identity.AgentIdentity{agent.ID: agent}},
		notifier,
		nil,
		RunnerConfig{BaseBackoff: time.Millisecond, StaleAfter: time.Hour},
		discard,
	)
	return &runnerHarness{
		queue:    NewQueue(store, nil, discard),
		store:    store,
		runner:   runner,
		invoker:  invoker,
		notifier: notifier,
		agent:    agent,
	}
}

// drain ticks until the task leaves the queue, waiting out backoff windows.
func (h *runnerHarness) drain(t *testing.T, id uuid.UUID) *Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.runner.Tick(context.Background())
		task, err := h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state")
	return nil
}

func TestRunner_Success(t *testing.T) {
	h := newRunnerHarness(&scriptedInvoker{})
	task, _, err := h.queue.Enqueue(context.Background(), EnqueueRequest{
		AgentID: h.agent.ID,
		Tool:    "bookings.create",
		Payload: json.RawMessage(`{"vendor_id":"v1"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	final := h.drain(t, task.ID)
	if final.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", final.Status)
	}
	if h.invoker.calls != 1 {
		t.Errorf("invoker calls = %d, want 1", h.invoker.calls)
	}
}

func TestRunner_RetryableThenSuccess(t *testing.T) {
	h := newRunnerHarness(&scriptedInvoker{errs: []error{
		tools.Retryable(fmt.Errorf("upstream 503")),
		tools.Retryable(fmt.Errorf("upstream 503")),
		nil,
	}})
	task, _, err := h.queue.Enqueue(context.Background(), EnqueueRequest{
		AgentID: h.agent.ID, Tool: "calendar.sync", IdempotencyKey: "K1",
	})
	if err != nil {
		t.Fatal(err)
	}

	final := h.drain(t, task.ID)
	if final.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS after retries", final.Status)
	}
	if h.invoker.calls != 3 {
		t.Errorf("invoker calls = %d, want 3", h.invoker.calls)
	}
	if final.Attempts != 2 {
		t.Errorf("recorded attempts = %d, want 2 failed attempts", final.Attempts)
	}
}

func TestRunner_RetriesExhaustedGoesDead(t *testing.T) {
	transient := tools.Retryable(fmt.Errorf("connection reset"))
	h := newRunnerHarness(&scriptedInvoker{errs: []error{transient, transient, transient}})
	task, _, err := h.queue.Enqueue(context.Background(), EnqueueRequest{
		AgentID: h.agent.ID, Tool: "calendar.sync", IdempotencyKey: "K1", MaxAttempts: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	final := h.drain(t, task.ID)
	if final.Status != StatusDead {
		t.Fatalf("status = %s, want DEAD", final.Status)
	}
	if h.invoker.calls != 3 {
		t.Errorf("invoker calls = %d, want 3", h.invoker.calls)
	}
	if len(h.notifier.dead) != 1 {
		t.Fatalf("dead notifications = %d, want 1", len(h.notifier.dead))
	}
	if h.notifier.dead[0].ID != task.ID {
		t.Error("notification references wrong task")
	}
}

func TestRunner_TerminalFailureNotRetried(t *testing.T) {
	h := newRunnerHarness(&scriptedInvoker{errs: []error{fmt.Errorf("booking not found")}})
	task, _, err := h.queue.Enqueue(context.Background(), EnqueueRequest{
		AgentID: h.agent.ID, Tool: "bookings.cancel", IdempotencyKey: "K1",
	})
	if err != nil {
		t.Fatal(err)
	}

	final := h.drain(t, task.ID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if h.invoker.calls != 1 {
		t.Errorf("invoker calls = %d, want 1 (no retries for terminal failures)", h.invoker.calls)
	}
	if len(h.notifier.dead) != 0 {
		t.Error("terminal failure must not page as DEAD")
	}
}

func TestRunner_ReplayedFailureCompletesAsFailed(t *testing.T) {
	// A task whose idempotency key already holds a terminal failure in the
	// ledger gets the failure replayed; the task must not end up SUCCESS.
	h := newRunnerHarness(&scriptedInvoker{errs: []error{
		fmt.Errorf("%w: booking already cancelled", executor.ErrCachedFailure),
	}})
	task, _, err := h.queue.Enqueue(context.Background(), EnqueueRequest{
		AgentID: h.agent.ID, Tool: "bookings.cancel", IdempotencyKey: "K1",
	})
	if err != nil {
		t.Fatal(err)
	}

	final := h.drain(t, task.ID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if h.invoker.calls != 1 {
		t.Errorf("invoker calls = %d, want 1", h.invoker.calls)
	}
}

func TestRunner_UnknownAgentFailsTask(t *testing.T) {
	h := newRunnerHarness(&scriptedInvoker{})
	task, _, err := h.queue.Enqueue(context.Background(), EnqueueRequest{
		AgentID:        uuid.New(), // Not in the resolver.
		Tool:           "bookings.create",
		IdempotencyKey: "K1",
	})
	if err != nil {
		t.Fatal(err)
	}

	final := h.drain(t, task.ID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if h.invoker.calls != 0 {
		t.Error("unresolvable agent must not invoke")
	}
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	r := &Runner{config: RunnerConfig{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := r.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
