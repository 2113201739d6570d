package core

import (
	"context"
	"sort"
	"sync"
)

// ThreatResponseStore persists ThreatResponse records. Update must be an
// idempotent upsert: calling it repeatedly with the same id and status is
// safe.
type ThreatResponseStore interface {
	Insert(ctx context.Context, resp *ThreatResponse) error
	Update(ctx context.Context, resp *ThreatResponse) error
	Find(ctx context.Context, responseID string) (*ThreatResponse, error)
	List(ctx context.Context, limit int) ([]*ThreatResponse, error)
}

// MemoryStore is the in-process store used for tests and single-binary
// deployments without Redis.
type MemoryStore struct {
	mu        sync.RWMutex
	responses map[string]*ThreatResponse
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{responses: make(map[string]*ThreatResponse)}
}

func (s *MemoryStore) Insert(_ context.Context, resp *ThreatResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[resp.ResponseID] = resp.clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, resp *ThreatResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[resp.ResponseID] = resp.clone()
	return nil
}

func (s *MemoryStore) Find(_ context.Context, responseID string) (*ThreatResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.responses[responseID]
	if !ok {
		return nil, ErrResponseNotFound
	}
	return resp.clone(), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*ThreatResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ThreatResponse, 0, len(s.responses))
	for _, resp := range s.responses {
		out = append(out, resp.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
