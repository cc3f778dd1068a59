package goal

import (
	"context"
	"errors"
	"regexp"
	"time"

	"glitchcube/internal/conversation"
	"glitchcube/internal/logging"
)

const detectedNotes = "Persona indicated goal completion"

// completionRule pairs a heuristic pattern with a label for logging.
type completionRule struct {
	label   string
	pattern *regexp.Regexp
}

// Ordered, case-insensitive phrase heuristics meaning "the goal is done".
// Best-effort text matching, not a classifier; swap the table to tune it.
var completionRules = []completionRule{
	{"goal-complete", regexp.MustCompile(`(?i)\bgoal\s+(is\s+)?(complete|completed|done|finished|accomplished)\b`)},
	{"completed-goal", regexp.MustCompile(`(?i)\b(completed|finished|accomplished|achieved)\s+(the|my|our)\s+goal\b`)},
	{"mission-accomplished", regexp.MustCompile(`(?i)\bmission\s+accomplished\b`)},
	{"done-with-goal", regexp.MustCompile(`(?i)\bdone\s+with\s+(the|my|our)\s+goal\b`)},
	{"quest-complete", regexp.MustCompile(`(?i)\bquest\s+(is\s+)?(complete|completed|done|finished)\b`)},
}

// matchCompletion returns the label of the first rule matching text, or "".
func matchCompletion(text string) string {
	for _, rule := range completionRules {
		if rule.pattern.MatchString(text) {
			return rule.label
		}
	}
	return ""
}

// CompletionDetector scans recent persona responses for completion phrases
// and drives the goal manager when one is found.
type CompletionDetector struct {
	conversations conversation.Store
	manager       *Manager
	scope         string
	window        time.Duration
	entryCap      int
	logger        logging.Logger
	clock         func() time.Time
}

// DetectorOption configures a CompletionDetector.
type DetectorOption func(*CompletionDetector)

// WithDetectorClock overrides the time source, for tests.
func WithDetectorClock(clock func() time.Time) DetectorOption {
	return func(d *CompletionDetector) { d.clock = clock }
}

// NewCompletionDetector creates a detector over the given stores. window and
// entryCap bound how far back in the transcript a scan reaches.
func NewCompletionDetector(conversations conversation.Store, manager *Manager, scope string, window time.Duration, entryCap int, logger logging.Logger, opts ...DetectorOption) *CompletionDetector {
	if scope == "" {
		scope = DefaultScope
	}
	d := &CompletionDetector{
		conversations: conversations,
		manager:       manager,
		scope:         scope,
		window:        window,
		entryCap:      entryCap,
		logger:        logging.OrNop(logger),
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check scans the conversation's recent persona entries, most recent first,
// and fires at most one completion cycle per invocation: the first matching
// entry completes the active goal and selects a replacement, then scanning
// stops. No active goal, no match, or an unknown conversation is a no-op.
func (d *CompletionDetector) Check(ctx context.Context, conversationID string) (bool, error) {
	active, err := d.manager.ActiveGoal(ctx, d.scope)
	if err != nil {
		return false, err
	}
	if active == nil {
		return false, nil
	}

	conv, err := d.conversations.Get(ctx, conversationID)
	if errors.Is(err, conversation.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Speech older than the active goal cannot complete it; without this
	// bound one phrase inside the window would complete every freshly
	// selected goal on every tick.
	cutoff := d.clock().Add(-d.window)
	if active.CreatedAt.After(cutoff) {
		cutoff = active.CreatedAt
	}
	for _, entry := range conv.RecentEntries(d.entryCap, cutoff) {
		if entry.Role != conversation.RolePersona {
			continue
		}
		label := matchCompletion(entry.Text)
		if label == "" {
			continue
		}
		d.logger.Info("Completion phrase %q detected in %s", label, conversationID)
		completed, err := d.manager.CompleteGoal(ctx, d.scope, detectedNotes)
		if err != nil {
			return false, err
		}
		if completed {
			if _, err := d.manager.SelectGoal(ctx, d.scope); err != nil {
				return true, err
			}
		}
		return completed, nil
	}
	return false, nil
}
