// Package goal implements the persona's time-boxed goal lifecycle: selection,
// expiration, completion, and heuristic completion detection.
package goal

import (
	"context"
	"time"
)

// Status is a goal's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Goal is one time-boxed objective the persona pursues.
type Goal struct {
	ID              string     `json:"id" yaml:"id"`
	Description     string     `json:"description" yaml:"-"`
	Status          Status     `json:"status" yaml:"status"`
	QuestMode       bool       `json:"quest_mode,omitempty" yaml:"quest_mode,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at" yaml:"expires_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	CompletionNotes string     `json:"completion_notes,omitempty" yaml:"completion_notes,omitempty"`
}

// Expired reports whether the goal's window has passed at the given instant.
func (g *Goal) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// State is everything a goal scope tracks: at most one active goal plus the
// append-only history of past ones.
type State struct {
	Active  *Goal  `json:"active,omitempty"`
	History []Goal `json:"history,omitempty"`
}

// Store persists goal state per scope (a persona or session identifier).
// Update serializes read-modify-write per scope so overlapping periodic ticks
// cannot double-apply a transition.
type Store interface {
	Get(ctx context.Context, scope string) (*State, error)
	Update(ctx context.Context, scope string, fn func(*State) error) error
}

func cloneState(s *State) *State {
	out := &State{}
	if s.Active != nil {
		active := *s.Active
		if s.Active.CompletedAt != nil {
			t := *s.Active.CompletedAt
			active.CompletedAt = &t
		}
		out.Active = &active
	}
	if len(s.History) > 0 {
		out.History = make([]Goal, len(s.History))
		copy(out.History, s.History)
		for i := range out.History {
			if s.History[i].CompletedAt != nil {
				t := *s.History[i].CompletedAt
				out.History[i].CompletedAt = &t
			}
		}
	}
	return out
}
