// Package app wires the conversation core together: stores, turn pipeline,
// background jobs, and the dispatch executor.
package app

import (
	"context"
	"fmt"
	"time"

	"glitchcube/internal/config"
	"glitchcube/internal/conversation"
	"glitchcube/internal/conversation/filestore"
	"glitchcube/internal/conversation/memstore"
	"glitchcube/internal/executor"
	"glitchcube/internal/goal"
	"glitchcube/internal/logging"
	"glitchcube/internal/observability"
	"glitchcube/internal/pending"
	"glitchcube/internal/reaper"
	"glitchcube/internal/scheduler"
	"glitchcube/internal/toolagent"
)

// defaultGoalPool seeds goal selection until an operator provides their own.
var defaultGoalPool = &goal.Pool{
	Normal: []string{
		"Learn the name of someone nearby",
		"Find out what the visitors are celebrating",
		"Get someone to tell you a story",
		"Convince someone to dance with you",
		"Discover what music the room wants to hear",
	},
	Quest: []string{
		"Guide a visitor through every room before sunrise",
		"Collect three secrets and trade them for a song",
		"Assemble an audience and hold their attention for ten minutes",
	},
}

// App is the assembled conversation core.
type App struct {
	Config        *config.Config
	Logger        logging.Logger
	Metrics       *observability.Metrics
	Conversations conversation.Store
	Pending       *pending.Store
	Executor      *executor.AsyncToolExecutor
	Goals         *goal.Manager
	Detector      *goal.CompletionDetector
	Reaper        *reaper.SessionReaper
	Scheduler     *scheduler.Scheduler
	Coordinator   *TurnCoordinator
}

// New assembles the core. engine supplies the narrative reply per turn; pass
// nil to fall back to a canned echo engine (useful for smoke testing without
// a model).
func New(cfg *config.Config, engine NarrativeEngine, logger logging.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	metrics := observability.DefaultMetrics()

	conversations, err := newConversationStore(cfg)
	if err != nil {
		return nil, err
	}
	goalStore, err := newGoalStore(cfg)
	if err != nil {
		return nil, err
	}

	pendingStore := pending.NewStore(conversations, logging.NewComponentLogger("pending"), metrics)

	agent := toolagent.NewClient(toolagent.Config{
		BaseURL: cfg.Agent.BaseURL,
		AgentID: cfg.Agent.AgentID,
		Token:   cfg.Agent.Token,
		Timeout: cfg.Agent.Timeout,
	}, logging.NewComponentLogger("toolagent"))

	exec := executor.New(agent, pendingStore, cfg.Server.WorkerPool,
		logging.NewComponentLogger("executor"), metrics)

	goals := goal.NewManager(goalStore, defaultGoalPool,
		cfg.Goal.NormalDuration, cfg.Goal.QuestDuration,
		logging.NewComponentLogger("goal"), metrics)

	detector := goal.NewCompletionDetector(conversations, goals, goal.DefaultScope,
		cfg.Goal.DetectorWindow, cfg.Goal.DetectorEntryCap,
		logging.NewComponentLogger("detector"))

	sessionReaper := reaper.New(conversations, cfg.Reaper.IdleThreshold,
		logging.NewComponentLogger("reaper"), metrics)

	if engine == nil {
		engine = echoEngine{}
	}
	coordinator := NewTurnCoordinator(conversations, pendingStore, engine, exec, goals,
		goal.DefaultScope, logging.NewComponentLogger("turn"), nil)

	a := &App{
		Config:        cfg,
		Logger:        logger,
		Metrics:       metrics,
		Conversations: conversations,
		Pending:       pendingStore,
		Executor:      exec,
		Goals:         goals,
		Detector:      detector,
		Reaper:        sessionReaper,
		Scheduler:     scheduler.New(logging.NewComponentLogger("scheduler")),
		Coordinator:   coordinator,
	}
	if err := a.registerJobs(); err != nil {
		return nil, err
	}
	return a, nil
}

func newConversationStore(cfg *config.Config) (conversation.Store, error) {
	if cfg.Store.Dir == "" {
		return memstore.New(), nil
	}
	store, err := filestore.New(cfg.Store.Dir,
		filestore.WithLogger(logging.NewComponentLogger("filestore")))
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return store, nil
}

func newGoalStore(cfg *config.Config) (goal.Store, error) {
	if cfg.Goal.Dir == "" {
		return goal.NewMemoryStore(), nil
	}
	store, err := goal.NewFileStore(cfg.Goal.Dir)
	if err != nil {
		return nil, fmt.Errorf("open goal store: %w", err)
	}
	return store, nil
}

// registerJobs wires the periodic triggers: goal expiration, completion
// scanning over active conversations, and the idle-session sweep.
func (a *App) registerJobs() error {
	jobs := []scheduler.Job{
		{
			Name:     "goal-check",
			Schedule: a.Config.Jobs.GoalCheckSchedule,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.Goals.CheckExpiration(ctx, goal.DefaultScope)
				return err
			},
		},
		{
			Name:     "completion-scan",
			Schedule: a.Config.Jobs.DetectorSchedule,
			Timeout:  time.Minute,
			Run:      a.scanActiveConversations,
		},
		{
			Name:     "session-reaper",
			Schedule: a.Config.Jobs.ReaperSchedule,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.Reaper.Sweep(ctx)
				return err
			},
		},
	}
	for _, job := range jobs {
		if err := a.Scheduler.Add(job); err != nil {
			return err
		}
	}
	return nil
}

// scanActiveConversations runs the completion detector across every active
// conversation. The detector fires at most once per invocation, so the scan
// stops after the first completion cycle.
func (a *App) scanActiveConversations(ctx context.Context) error {
	active, err := a.Conversations.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, conv := range active {
		fired, err := a.Detector.Check(ctx, conv.ID)
		if err != nil {
			return err
		}
		if fired {
			return nil
		}
	}
	return nil
}

// Start launches the background jobs.
func (a *App) Start(ctx context.Context) {
	a.Scheduler.Start(ctx)
}

// Shutdown stops the jobs and waits for in-flight dispatches.
func (a *App) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()
	if err := a.Executor.Wait(ctx); err != nil {
		return fmt.Errorf("drain dispatches: %w", err)
	}
	return nil
}

// echoEngine is the no-model fallback: it mirrors the user's words and never
// requests tools.
type echoEngine struct{}

func (echoEngine) Generate(_ context.Context, turn TurnContext) (*NarrativeResult, error) {
	speech := "I heard you say: " + turn.UserMessage
	if turn.UserMessage == "" {
		speech = "I'm listening."
	}
	return &NarrativeResult{SpeechText: speech}, nil
}
