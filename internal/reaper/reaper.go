// Package reaper ends conversations that have gone idle.
package reaper

import (
	"context"
	"errors"
	"time"

	"glitchcube/internal/conversation"
	"glitchcube/internal/logging"
	"glitchcube/internal/observability"
)

// SessionReaper sweeps active conversations and ends the ones whose last
// transcript activity is older than the idle threshold.
type SessionReaper struct {
	conversations conversation.Store
	idleThreshold time.Duration
	logger        logging.Logger
	metrics       *observability.Metrics
	clock         func() time.Time
}

// Option configures a SessionReaper.
type Option func(*SessionReaper)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *SessionReaper) { r.clock = clock }
}

// New creates a reaper over the given store.
func New(conversations conversation.Store, idleThreshold time.Duration, logger logging.Logger, metrics *observability.Metrics, opts ...Option) *SessionReaper {
	r := &SessionReaper{
		conversations: conversations,
		idleThreshold: idleThreshold,
		logger:        logging.OrNop(logger),
		metrics:       metrics,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep ends every active conversation idle past the threshold and returns
// how many it ended. Conversations with no transcript entries are never
// eligible: creation alone is not activity. One conversation failing to end
// does not stop the sweep.
func (r *SessionReaper) Sweep(ctx context.Context) (int, error) {
	active, err := r.conversations.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := r.clock().Add(-r.idleThreshold)
	reaped := 0
	var firstErr error
	for _, conv := range active {
		last, ok := conv.LastActivity()
		if !ok || !last.Before(cutoff) {
			continue
		}
		if err := r.conversations.End(ctx, conv.ID); err != nil {
			// already gone or ended concurrently is not a sweep failure
			if errors.Is(err, conversation.ErrNotFound) {
				continue
			}
			r.logger.Error("Failed to reap conversation %s: %v", conv.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.logger.Info("Reaped idle conversation %s (last activity %s)", conv.ID, last.Format(time.RFC3339))
		reaped++
	}

	r.metrics.ConversationsReaped(reaped)
	if reaped > 0 {
		r.logger.Info("Reaper sweep ended %d conversations", reaped)
	}
	return reaped, firstErr
}
