package taskqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process
// development runs. Claim operations are atomic under the store mutex.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[uuid.UUID]*Task)}
}

func (s *MemoryStore) InsertOrGetActive(_ context.Context, task *Task) (*Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.Tool == task.Tool && t.IdempotencyKey == task.IdempotencyKey && !t.Status.Terminal() {
			cp := *t
			return &cp, false, nil
		}
	}
	cp := *task
	s.tasks[task.ID] = &cp
	out := cp
	return &out, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var all []Task
	for _, t := range s.tasks {
		if filter.AgentID != uuid.Nil && t.AgentID != filter.AgentID {
			continue
		}
		if filter.Role != "" && t.Role != filter.Role {
			continue
		}
		if filter.Tool != "" && t.Tool != filter.Tool {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && t.CreatedAt.Before(filter.Since) {
			continue
		}
		all = append(all, *t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, workerID string, limit int, now time.Time) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Task
	for _, t := range s.tasks {
		if t.Status == StatusQueued && !t.NotBefore.After(now) {
			due = append(due, t)
		}
	}
	// Oldest first, so starved tasks drain before fresh ones.
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Task, 0, len(due))
	for _, t := range due {
		t.Status = StatusClaimed
		t.ClaimedBy = workerID
		t.ClaimedAt = now
		t.UpdatedAt = now
		claimed = append(claimed, *t)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = StatusRunning
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id uuid.UUID, status Status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	now := time.Now().UTC()
	t.Status = status
	t.LastError = lastError
	t.CompletedAt = now
	t.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Requeue(_ context.Context, id uuid.UUID, attempts int, notBefore time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = StatusQueued
	t.Attempts = attempts
	t.NotBefore = notBefore
	t.LastError = lastError
	t.ClaimedBy = ""
	t.ClaimedAt = time.Time{}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != StatusQueued {
		return ErrNotCancellable
	}
	now := time.Now().UTC()
	t.Status = StatusDead
	t.CancelReason = reason
	t.CompletedAt = now
	t.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ReclaimStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tasks {
		if (t.Status == StatusClaimed || t.Status == StatusRunning) && t.ClaimedAt.Before(cutoff) {
			t.Status = StatusQueued
			t.ClaimedBy = ""
			t.ClaimedAt = time.Time{}
			t.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)
