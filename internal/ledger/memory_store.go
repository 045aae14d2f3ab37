package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process
// development runs. InsertPending is atomic under the store mutex,
// matching the insert-if-absent contract.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*Record
}

type recordKey struct {
	tool string
	key  string
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]*Record)}
}

func (s *MemoryStore) InsertPending(_ context.Context, rec Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{tool: rec.Tool, key: rec.Key}
	if existing, ok := s.records[k]; ok {
		if existing.ExpiresAt.After(time.Now().UTC()) {
			cp := *existing
			return &cp, false, nil
		}
		// Expired record: a deliberately reused key after the business
		// transaction window is treated as fresh.
		delete(s.records, k)
	}

	cp := rec
	s.records[k] = &cp
	return nil, true, nil
}

func (s *MemoryStore) Get(_ context.Context, tool, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{tool: tool, key: key}]
	if !ok || !rec.ExpiresAt.After(time.Now().UTC()) {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Commit(_ context.Context, tool, key, fingerprint string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{tool: tool, key: key}]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Fingerprint = fingerprint
	rec.Committed = true
	rec.Outcome = outcome
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tool, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{tool: tool, key: key}
	if _, ok := s.records[k]; !ok {
		return ErrRecordNotFound
	}
	delete(s.records, k)
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)
