package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation id is unknown to the store.
var ErrNotFound = errors.New("conversation not found")

// ErrEnded is returned by Update when the target conversation has ended.
// Ended conversations are immutable.
var ErrEnded = errors.New("conversation has ended")

// Store persists conversations.
//
// Update is the single serializing primitive: the store applies fn to the
// current state of one conversation under a per-conversation lock and persists
// the result, so two concurrent updates cannot lose each other's writes.
type Store interface {
	// Create creates a new active conversation, optionally with a caller
	// supplied id (empty means generate one).
	Create(ctx context.Context, conversationID string) (*Conversation, error)

	// Get returns a copy of the conversation, or ErrNotFound.
	Get(ctx context.Context, conversationID string) (*Conversation, error)

	// List returns all conversation ids.
	List(ctx context.Context) ([]string, error)

	// ListActive returns copies of every conversation with StatusActive.
	ListActive(ctx context.Context) ([]*Conversation, error)

	// Update applies fn to the conversation under the per-conversation lock.
	// Returns ErrNotFound for unknown ids and ErrEnded for ended ones; fn is
	// not invoked in either case. An error from fn aborts the write.
	Update(ctx context.Context, conversationID string, fn func(*Conversation) error) error

	// End marks the conversation ended. Ending an already ended conversation
	// is a no-op.
	End(ctx context.Context, conversationID string) error
}

// AppendEntry adds a transcript line via the store's serialized update.
func AppendEntry(ctx context.Context, store Store, conversationID, role, text string, at time.Time) error {
	return store.Update(ctx, conversationID, func(c *Conversation) error {
		c.Entries = append(c.Entries, LogEntry{Timestamp: at, Role: role, Text: text})
		return nil
	})
}
