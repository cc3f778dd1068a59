package goal

import (
	"context"
	"sync"
)

// MemoryStore keeps goal state in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string]*State
}

// NewMemoryStore creates an empty in-memory goal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string]*State)}
}

// Get returns a copy of the scope's state; an unknown scope yields an empty
// state, never an error.
func (s *MemoryStore) Get(_ context.Context, scope string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.scopes[scope]
	if !ok {
		return &State{}, nil
	}
	return cloneState(st), nil
}

// Update applies fn to the scope's state under the store lock. A non-nil fn
// error aborts the write.
func (s *MemoryStore) Update(_ context.Context, scope string, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.scopes[scope]
	if !ok {
		st = &State{}
	}
	working := cloneState(st)
	if err := fn(working); err != nil {
		return err
	}
	s.scopes[scope] = working
	return nil
}
