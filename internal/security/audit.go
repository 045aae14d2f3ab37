package security

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditFilter narrows audit queries. Zero values mean "no filter".
type AuditFilter struct {
	AgentID uuid.UUID
	Status  AuditStatus
	Since   time.Time
	Until   time.Time
	Limit   int // 0 = 100.
}

// AuditStore is an append-only store for audit entries.
// No update or delete methods — immutability enforced at the interface level.
type AuditStore interface {
	// Append writes a single audit entry. Never updates or deletes.
	Append(ctx context.Context, entry AuditEntry) error
	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// MemoryAuditStore is an in-memory AuditStore for tests and single-process
// development runs. Safe for concurrent use.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) Query(_ context.Context, filter AuditFilter) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []AuditEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if filter.AgentID != uuid.Nil && e.AgentID != filter.AgentID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.CreatedAt.After(filter.Until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Compile-time check.
var _ AuditStore = (*MemoryAuditStore)(nil)
