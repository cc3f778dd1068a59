package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"glitchcube/internal/conversation"
	"glitchcube/internal/conversation/memstore"
	"glitchcube/internal/executor"
	"glitchcube/internal/goal"
	"glitchcube/internal/logging"
	"glitchcube/internal/observability"
	"glitchcube/internal/pending"
	"glitchcube/internal/toolagent"
)

type scriptedEngine struct {
	result   *NarrativeResult
	err      error
	lastTurn TurnContext
}

func (e *scriptedEngine) Generate(_ context.Context, turn TurnContext) (*NarrativeResult, error) {
	e.lastTurn = turn
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

type stubAgent struct {
	outcome toolagent.Outcome
}

func (a *stubAgent) Execute(context.Context, string) toolagent.Outcome {
	return a.outcome
}

type turnHarness struct {
	coordinator   *TurnCoordinator
	conversations conversation.Store
	pending       *pending.Store
	executor      *executor.AsyncToolExecutor
	engine        *scriptedEngine
	goals         *goal.Manager
}

func newTurnHarness(t *testing.T, agent executor.AgentClient) *turnHarness {
	t.Helper()
	metrics := observability.MustNewMetrics(prometheus.NewRegistry())
	conversations := memstore.New()
	pendingStore := pending.NewStore(conversations, logging.Nop(), metrics)
	if agent == nil {
		agent = &stubAgent{outcome: toolagent.Outcome{Success: true, Message: "Successfully completed 1 actions"}}
	}
	exec := executor.New(agent, pendingStore, 4, logging.Nop(), metrics)
	goals := goal.NewManager(goal.NewMemoryStore(),
		&goal.Pool{Normal: []string{"test objective"}},
		30*time.Minute, 2*time.Hour, logging.Nop(), metrics)
	engine := &scriptedEngine{result: &NarrativeResult{SpeechText: "hello there"}}
	coordinator := NewTurnCoordinator(conversations, pendingStore, engine, exec, goals,
		goal.DefaultScope, logging.Nop(), nil)
	return &turnHarness{
		coordinator:   coordinator,
		conversations: conversations,
		pending:       pendingStore,
		executor:      exec,
		engine:        engine,
		goals:         goals,
	}
}

func TestProcessTurnCreatesConversationAndRecordsExchange(t *testing.T) {
	ctx := context.Background()
	h := newTurnHarness(t, nil)

	resp, err := h.coordinator.ProcessTurn(ctx, TurnRequest{Text: "hi cube"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if resp.ConversationID == "" {
		t.Fatal("no conversation id assigned")
	}
	if resp.ResponseType != ResponseTypeNormal {
		t.Errorf("response_type = %q", resp.ResponseType)
	}
	if resp.SpeechText != "hello there" {
		t.Errorf("speech = %q", resp.SpeechText)
	}

	conv, err := h.conversations.Get(ctx, resp.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Entries) != 2 {
		t.Fatalf("entries = %d, want user + persona", len(conv.Entries))
	}
	if conv.Entries[0].Role != conversation.RoleUser || conv.Entries[0].Text != "hi cube" {
		t.Errorf("user entry = %+v", conv.Entries[0])
	}
	if conv.Entries[1].Role != conversation.RolePersona || conv.Entries[1].Text != "hello there" {
		t.Errorf("persona entry = %+v", conv.Entries[1])
	}
}

func TestProcessTurnDispatchesIntentsInBackground(t *testing.T) {
	ctx := context.Background()
	h := newTurnHarness(t, nil)
	h.engine.result = &NarrativeResult{
		SpeechText:  "working on it",
		ToolIntents: []conversation.ToolIntent{{Tool: "lights", Intent: "turn on the disco lights"}},
	}

	resp, err := h.coordinator.ProcessTurn(ctx, TurnRequest{Text: "party time"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if resp.ResponseType != ResponseTypeBackgroundTools {
		t.Errorf("response_type = %q", resp.ResponseType)
	}
	if !resp.ContinueConversation {
		t.Error("background tools should keep the conversation open")
	}
	if resp.ContinueDelaySeconds == 0 {
		t.Error("no continue delay set")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.executor.Wait(waitCtx); err != nil {
		t.Fatal(err)
	}

	conv, _ := h.conversations.Get(ctx, resp.ConversationID)
	if len(conv.Metadata.PendingResults) != 1 {
		t.Fatalf("pending results = %d", len(conv.Metadata.PendingResults))
	}
	pr := conv.Metadata.PendingResults[0]
	if pr.UserMessage != "party time" || pr.AgentType != "lights" {
		t.Errorf("pending result = %+v", pr)
	}
}

func TestNextTurnSeesDrainedResults(t *testing.T) {
	ctx := context.Background()
	h := newTurnHarness(t, nil)
	h.engine.result = &NarrativeResult{
		SpeechText:  "on it",
		ToolIntents: []conversation.ToolIntent{{Tool: "lights", Intent: "lights on"}},
	}

	first, err := h.coordinator.ProcessTurn(ctx, TurnRequest{Text: "lights please"})
	if err != nil {
		t.Fatal(err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = h.executor.Wait(waitCtx)

	h.engine.result = &NarrativeResult{SpeechText: "they came on beautifully"}
	_, err = h.coordinator.ProcessTurn(ctx, TurnRequest{
		ConversationID: first.ConversationID,
		Text:           "did it work?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(h.engine.lastTurn.PendingResults) != 1 {
		t.Fatalf("engine saw %d pending results", len(h.engine.lastTurn.PendingResults))
	}
	got := h.engine.lastTurn.PendingResults[0]
	if got.Response == nil || !got.Response.Success {
		t.Errorf("result = %+v", got)
	}

	// a third turn must not see them again
	_, _ = h.coordinator.ProcessTurn(ctx, TurnRequest{
		ConversationID: first.ConversationID,
		Text:           "anything else?",
	})
	if len(h.engine.lastTurn.PendingResults) != 0 {
		t.Error("drained results redelivered on a later turn")
	}
}

func TestProcessTurnEngineFailureReturnsErrorResponse(t *testing.T) {
	ctx := context.Background()
	h := newTurnHarness(t, nil)
	h.engine.err = errors.New("model unavailable")

	resp, err := h.coordinator.ProcessTurn(ctx, TurnRequest{Text: "hello?"})
	if err != nil {
		t.Fatalf("engine failure must not surface as a transport error: %v", err)
	}
	if resp.ResponseType != ResponseTypeError {
		t.Errorf("response_type = %q", resp.ResponseType)
	}
	if resp.SpeechText == "" {
		t.Error("error response needs fallback speech")
	}
}

func TestProcessTurnOnEndedConversationStartsFresh(t *testing.T) {
	ctx := context.Background()
	h := newTurnHarness(t, nil)

	first, _ := h.coordinator.ProcessTurn(ctx, TurnRequest{Text: "hello"})
	if err := h.coordinator.EndConversation(ctx, first.ConversationID); err != nil {
		t.Fatal(err)
	}

	second, err := h.coordinator.ProcessTurn(ctx, TurnRequest{
		ConversationID: first.ConversationID,
		Text:           "I'm back",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if second.ConversationID == first.ConversationID {
		t.Error("turn reused an ended conversation")
	}
}

func TestProcessTurnPassesGoalToEngine(t *testing.T) {
	ctx := context.Background()
	h := newTurnHarness(t, nil)
	selected, _ := h.goals.SelectGoal(ctx, goal.DefaultScope)

	_, err := h.coordinator.ProcessTurn(ctx, TurnRequest{Text: "what are you up to?"})
	if err != nil {
		t.Fatal(err)
	}
	if h.engine.lastTurn.ActiveGoal == nil || h.engine.lastTurn.ActiveGoal.ID != selected.ID {
		t.Errorf("engine goal = %+v", h.engine.lastTurn.ActiveGoal)
	}
}
