package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process
// development runs. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[uuid.UUID]*AgentIdentity
	byHash map[string]uuid.UUID
}

// NewMemoryStore creates an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[uuid.UUID]*AgentIdentity),
		byHash: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Create(_ context.Context, agent *AgentIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.ID]; exists {
		return fmt.Errorf("agent %s already exists", agent.ID)
	}
	if _, exists := s.byHash[agent.CredentialHash]; exists {
		return fmt.Errorf("credential hash collision")
	}
	cp := *agent
	s.agents[agent.ID] = &cp
	s.byHash[agent.CredentialHash] = agent.ID
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*AgentIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *agent
	return &cp, nil
}

func (s *MemoryStore) GetByCredentialHash(_ context.Context, hash string) (*AgentIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *s.agents[id]
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]AgentIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentIdentity, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.Active = active
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)
