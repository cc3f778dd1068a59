// Package pending buffers outcomes of out-of-band tool dispatches until the
// next conversation turn consumes them.
package pending

import (
	"context"
	"errors"

	"glitchcube/internal/conversation"
	"glitchcube/internal/logging"
	"glitchcube/internal/observability"
)

// Store appends and drains per-conversation pending results. All mutations go
// through the conversation store's serialized Update, so concurrent appends
// for one conversation cannot lose entries and concurrent drains cannot
// deliver an entry twice.
type Store struct {
	conversations conversation.Store
	logger        logging.Logger
	metrics       *observability.Metrics
}

// NewStore creates a pending result store over the given conversation store.
func NewStore(conversations conversation.Store, logger logging.Logger, metrics *observability.Metrics) *Store {
	return &Store{
		conversations: conversations,
		logger:        logging.OrNop(logger),
		metrics:       metrics,
	}
}

// Append adds entry to the conversation's buffer in arrival order. A missing
// or already ended conversation is logged and dropped, never an error: a tool
// result with nowhere to go must not fail the dispatch that produced it.
func (s *Store) Append(ctx context.Context, conversationID string, entry conversation.PendingResult) error {
	err := s.conversations.Update(ctx, conversationID, func(c *conversation.Conversation) error {
		c.Metadata.Merge(conversation.Metadata{
			PendingResults: []conversation.PendingResult{entry},
		})
		return nil
	})
	switch {
	case err == nil:
		s.metrics.PendingAppended(1)
		return nil
	case errors.Is(err, conversation.ErrNotFound):
		s.logger.Warn("Dropping pending result for unknown conversation %s", conversationID)
		return nil
	case errors.Is(err, conversation.ErrEnded):
		s.logger.Warn("Dropping pending result for ended conversation %s", conversationID)
		return nil
	default:
		return err
	}
}

// DrainUnprocessed returns all unprocessed entries in append order and marks
// them processed in the same store update. A second drain returns nothing.
// Unknown conversations yield an empty drain.
func (s *Store) DrainUnprocessed(ctx context.Context, conversationID string) ([]conversation.PendingResult, error) {
	var drained []conversation.PendingResult
	err := s.conversations.Update(ctx, conversationID, func(c *conversation.Conversation) error {
		for i := range c.Metadata.PendingResults {
			pr := &c.Metadata.PendingResults[i]
			if pr.Processed {
				continue
			}
			pr.Processed = true
			drained = append(drained, *pr)
		}
		return nil
	})
	switch {
	case err == nil:
		s.metrics.PendingDrained(len(drained))
		return drained, nil
	case errors.Is(err, conversation.ErrNotFound):
		s.logger.Debug("Drain requested for unknown conversation %s", conversationID)
		return nil, nil
	case errors.Is(err, conversation.ErrEnded):
		return nil, nil
	default:
		return nil, err
	}
}
