package goal

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"glitchcube/internal/logging"
	"glitchcube/internal/observability"
	"glitchcube/internal/utils/id"
)

// DefaultScope is the goal scope used when the deployment tracks a single
// persona.
const DefaultScope = "persona"

const expiredNotes = "Goal expired after time limit"

// DescriptionProvider supplies the text of the next goal. Quest mode selects
// from an alternate, longer-horizon pool.
type DescriptionProvider interface {
	NextGoal(questMode bool) string
}

// Pool is a DescriptionProvider drawing uniformly from fixed description
// lists.
type Pool struct {
	Normal []string
	Quest  []string
}

// NextGoal picks a random description from the matching pool, falling back to
// the normal pool when the quest pool is empty.
func (p *Pool) NextGoal(questMode bool) string {
	pool := p.Normal
	if questMode && len(p.Quest) > 0 {
		pool = p.Quest
	}
	if len(pool) == 0 {
		return "Engage whoever is nearby in conversation"
	}
	return pool[rand.Intn(len(pool))]
}

// Manager drives the goal state machine. All transitions run inside the
// store's serialized Update, so overlapping periodic ticks observe persisted
// state and each expiration produces exactly one reselection.
type Manager struct {
	store        Store
	descriptions DescriptionProvider
	normal       time.Duration
	quest        time.Duration
	logger       logging.Logger
	metrics      *observability.Metrics
	clock        func() time.Time

	mu        sync.RWMutex
	questMode bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides the time source, for tests.
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a goal lifecycle manager.
func NewManager(store Store, descriptions DescriptionProvider, normal, quest time.Duration, logger logging.Logger, metrics *observability.Metrics, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		descriptions: descriptions,
		normal:       normal,
		quest:        quest,
		logger:       logging.OrNop(logger),
		metrics:      metrics,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetQuestMode switches the selection policy for subsequent goals. It does
// not touch the currently active goal.
func (m *Manager) SetQuestMode(enabled bool) {
	m.mu.Lock()
	m.questMode = enabled
	m.mu.Unlock()
}

// QuestMode reports the current selection policy.
func (m *Manager) QuestMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.questMode
}

// ActiveGoal returns the scope's active goal, or nil when there is none.
func (m *Manager) ActiveGoal(ctx context.Context, scope string) (*Goal, error) {
	st, err := m.store.Get(ctx, scope)
	if err != nil {
		return nil, err
	}
	return st.Active, nil
}

// History returns the scope's past goals in completion order.
func (m *Manager) History(ctx context.Context, scope string) ([]Goal, error) {
	st, err := m.store.Get(ctx, scope)
	if err != nil {
		return nil, err
	}
	return st.History, nil
}

// SelectGoal installs a new active goal. An existing active goal is
// superseded: moved to history untouched, replaced in the same update.
func (m *Manager) SelectGoal(ctx context.Context, scope string) (*Goal, error) {
	var selected *Goal
	err := m.store.Update(ctx, scope, func(st *State) error {
		selected = m.install(st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.GoalTransition("selected")
	m.logger.Info("Selected goal %s for %s: %s", selected.ID, scope, selected.Description)
	out := *selected
	return &out, nil
}

// CompleteGoal marks the active goal completed with the given notes and
// clears the active slot. With no active goal it reports false and does
// nothing.
func (m *Manager) CompleteGoal(ctx context.Context, scope, notes string) (bool, error) {
	completed := false
	err := m.store.Update(ctx, scope, func(st *State) error {
		if st.Active == nil {
			return nil
		}
		m.finish(st, notes)
		completed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if completed {
		m.metrics.GoalTransition("completed")
		m.logger.Info("Completed goal for %s: %s", scope, notes)
	}
	return completed, nil
}

// CheckExpiration rotates an expired goal: one completion with the expiry
// notes, one reselection, both inside a single store update. It returns the
// replacement goal when a rotation happened, nil otherwise. No active goal or
// an unexpired one is a no-op.
func (m *Manager) CheckExpiration(ctx context.Context, scope string) (*Goal, error) {
	var replacement *Goal
	err := m.store.Update(ctx, scope, func(st *State) error {
		if st.Active == nil || !st.Active.Expired(m.clock()) {
			return nil
		}
		m.finish(st, expiredNotes)
		replacement = m.install(st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replacement == nil {
		return nil, nil
	}
	m.metrics.GoalTransition("expired")
	m.metrics.GoalTransition("selected")
	m.logger.Info("Goal expired for %s, selected %s", scope, replacement.ID)
	out := *replacement
	return &out, nil
}

func (m *Manager) finish(st *State, notes string) {
	now := m.clock()
	g := st.Active
	g.Status = StatusCompleted
	g.CompletionNotes = notes
	g.CompletedAt = &now
	st.History = append(st.History, *g)
	st.Active = nil
}

func (m *Manager) install(st *State) *Goal {
	if st.Active != nil {
		st.History = append(st.History, *st.Active)
	}
	questMode := m.QuestMode()
	duration := m.normal
	if questMode {
		duration = m.quest
	}
	now := m.clock()
	st.Active = &Goal{
		ID:          id.NewGoalID(),
		Description: m.descriptions.NextGoal(questMode),
		Status:      StatusActive,
		QuestMode:   questMode,
		CreatedAt:   now,
		ExpiresAt:   now.Add(duration),
	}
	return st.Active
}
