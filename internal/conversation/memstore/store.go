// Package memstore provides the in-memory conversation store used by tests
// and as the default when no storage directory is configured.
package memstore

import (
	"context"
	"sync"
	"time"

	"glitchcube/internal/conversation"
	id "glitchcube/internal/utils/id"
)

type store struct {
	mu            sync.Mutex
	conversations map[string]*conversation.Conversation
	now           func() time.Time
}

// Option customizes the store.
type Option func(*store)

// WithClock overrides the store's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *store) { s.now = now }
}

// New creates an empty in-memory store.
func New(opts ...Option) conversation.Store {
	s := &store{
		conversations: make(map[string]*conversation.Conversation),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *store) Create(_ context.Context, conversationID string) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID == "" {
		conversationID = id.NewConversationID()
	}
	if existing, ok := s.conversations[conversationID]; ok {
		return existing.Clone(), nil
	}

	now := s.now()
	conv := &conversation.Conversation{
		ID:        conversationID,
		Status:    conversation.StatusActive,
		Metadata:  conversation.Metadata{Version: conversation.MetadataVersion},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conversationID] = conv
	return conv.Clone(), nil
}

func (s *store) Get(_ context.Context, conversationID string) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return conv.Clone(), nil
}

func (s *store) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.conversations))
	for cid := range s.conversations {
		ids = append(ids, cid)
	}
	return ids, nil
}

func (s *store) ListActive(_ context.Context) ([]*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*conversation.Conversation
	for _, conv := range s.conversations {
		if conv.Status == conversation.StatusActive {
			out = append(out, conv.Clone())
		}
	}
	return out, nil
}

// Update serializes all mutations behind the store mutex, so concurrent
// updates to the same conversation always see each other's writes.
func (s *store) Update(_ context.Context, conversationID string, fn func(*conversation.Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return conversation.ErrNotFound
	}
	if conv.Status == conversation.StatusEnded {
		return conversation.ErrEnded
	}

	working := conv.Clone()
	if err := fn(working); err != nil {
		return err
	}
	working.UpdatedAt = s.now()
	s.conversations[conversationID] = working
	return nil
}

func (s *store) End(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return conversation.ErrNotFound
	}
	if conv.Status == conversation.StatusEnded {
		return nil
	}
	working := conv.Clone()
	working.Status = conversation.StatusEnded
	working.UpdatedAt = s.now()
	s.conversations[conversationID] = working
	return nil
}
