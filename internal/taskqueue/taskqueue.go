// Package taskqueue implements the durable background task queue and its
// runner. Tasks reference a tool invocation to perform on behalf of an
// agent; the runner claims due tasks atomically so concurrent runners
// never double-execute.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/karibuhq/karibu/internal/ledger"
	"github.com/karibuhq/karibu/internal/security"
)

// Sentinel errors.
var (
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotCancellable is returned when cancelling a task that has
	// already been claimed or reached a terminal state.
	ErrNotCancellable = errors.New("task is not in a cancellable state")
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusClaimed Status = "CLAIMED"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED" // Terminal tool failure, not retried.
	StatusDead    Status = "DEAD"   // Retries exhausted, or cancelled before claim.
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusDead:
		return true
	}
	return false
}

// Task is one queued tool invocation. Role is the target agent's role,
// denormalized for filtering; enforcement happens at dispatch time from
// the resolved agent, never at enqueue.
type Task struct {
	ID             uuid.UUID       `json:"id"`
	AgentID        uuid.UUID       `json:"agent_id"`
	Role           security.Role   `json:"role"`
	Tool           string          `json:"tool"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	LastError      string          `json:"last_error,omitempty"`
	NotBefore      time.Time       `json:"not_before"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	ClaimedAt      time.Time       `json:"claimed_at,omitempty"`
	CompletedAt    time.Time       `json:"completed_at,omitempty"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Filter narrows task listings. Zero values mean "no filter".
type Filter struct {
	AgentID uuid.UUID
	Role    security.Role
	Tool    string
	Status  Status
	Since   time.Time
	Limit   int // 0 = 100.
}

// Store persists tasks. Implementations must make InsertOrGetActive and
// ClaimDue atomic: two runners claiming concurrently must partition the
// due set, never share a task.
type Store interface {
	// InsertOrGetActive inserts the task unless a non-terminal task with
	// the same (tool, idempotency key) exists. Returns (existing, false)
	// when deduplicated, (inserted, true) otherwise.
	InsertOrGetActive(ctx context.Context, task *Task) (*Task, bool, error)
	// Get returns the task by ID, or ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	// List returns tasks matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]Task, error)
	// ClaimDue atomically moves up to limit due QUEUED tasks to CLAIMED
	// for the given worker and returns them.
	ClaimDue(ctx context.Context, workerID string, limit int, now time.Time) ([]Task, error)
	// MarkRunning transitions a claimed task to RUNNING.
	MarkRunning(ctx context.Context, id uuid.UUID) error
	// Complete transitions the task to a terminal status.
	Complete(ctx context.Context, id uuid.UUID, status Status, lastError string) error
	// Requeue returns the task to QUEUED with a new attempt count and
	// earliest run time.
	Requeue(ctx context.Context, id uuid.UUID, attempts int, notBefore time.Time, lastError string) error
	// Cancel transitions a QUEUED task to DEAD with a cancellation
	// reason, or returns ErrNotCancellable.
	Cancel(ctx context.Context, id uuid.UUID, reason string) error
	// ReclaimStale requeues CLAIMED or RUNNING tasks whose claim is older
	// than cutoff. Returns the number reclaimed.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}

const defaultMaxAttempts = 5

// Queue is the enqueue-side API used by the HTTP gateway and the lead router.
type Queue struct {
	store   Store
	metrics *Metrics
	logger  *slog.Logger
}

// NewQueue creates a Queue. metrics may be nil.
func NewQueue(store Store, metrics *Metrics, logger *slog.Logger) *Queue {
	return &Queue{store: store, metrics: metrics, logger: logger}
}

// EnqueueRequest describes a task to enqueue.
type EnqueueRequest struct {
	AgentID        uuid.UUID
	Role           security.Role
	Tool           string
	Payload        json.RawMessage
	IdempotencyKey string // Empty defaults to the payload fingerprint.
	MaxAttempts    int    // 0 defaults to 5.
	NotBefore      time.Time
}

// Enqueue adds a task, deduplicating against non-terminal tasks with the
// same (tool, idempotency key). Returns the task and whether it was
// newly created.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*Task, bool, error) {
	if req.Tool == "" {
		return nil, false, fmt.Errorf("tool is required")
	}
	if req.AgentID == uuid.Nil {
		return nil, false, fmt.Errorf("agent_id is required")
	}

	key := req.IdempotencyKey
	if key == "" {
		key = ledger.Fingerprint(req.Payload)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	now := time.Now().UTC()
	notBefore := req.NotBefore
	if notBefore.IsZero() {
		notBefore = now
	}

	task := &Task{
		ID:             uuid.New(),
		AgentID:        req.AgentID,
		Role:           req.Role,
		Tool:           req.Tool,
		Payload:        req.Payload,
		IdempotencyKey: key,
		Status:         StatusQueued,
		MaxAttempts:    maxAttempts,
		NotBefore:      notBefore,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, inserted, err := q.store.InsertOrGetActive(ctx, task)
	if err != nil {
		return nil, false, fmt.Errorf("enqueueing task: %w", err)
	}
	if !inserted {
		q.logger.DebugContext(ctx, "enqueue deduplicated against active task",
			slog.String("tool", req.Tool),
			slog.String("task_id", stored.ID.String()),
		)
		return stored, false, nil
	}

	if q.metrics != nil {
		q.metrics.Enqueued.WithLabelValues(req.Tool).Inc()
	}
	q.logger.InfoContext(ctx, "task enqueued",
		slog.String("task_id", stored.ID.String()),
		slog.String("tool", req.Tool),
		slog.String("agent_id", req.AgentID.String()),
	)
	return stored, true, nil
}

// Cancel cancels a task that has not been claimed yet. Cancelled tasks
// go to DEAD with the cancellation reason recorded.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	if err := q.store.Cancel(ctx, id, reason); err != nil {
		return err
	}
	q.logger.InfoContext(ctx, "task cancelled",
		slog.String("task_id", id.String()),
		slog.String("reason", reason),
	)
	return nil
}

// Get returns a task by ID.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	return q.store.Get(ctx, id)
}

// List returns tasks matching the filter.
func (q *Queue) List(ctx context.Context, filter Filter) ([]Task, error) {
	return q.store.List(ctx, filter)
}
