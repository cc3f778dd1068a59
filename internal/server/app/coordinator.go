package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"glitchcube/internal/conversation"
	"glitchcube/internal/executor"
	"glitchcube/internal/goal"
	"glitchcube/internal/logging"
	"glitchcube/internal/pending"
	"glitchcube/internal/utils/id"
)

var tracer = otel.Tracer("glitchcube/app")

// Turn response types on the wire. Background tool dispatches keep the
// conversation open while they run.
const (
	ResponseTypeNormal          = "normal"
	ResponseTypeBackgroundTools = "immediate_speech_with_background_tools"
	ResponseTypeError           = "error"
)

// defaultContinueDelaySeconds is how long the caller should keep the session
// open waiting for background tool results to land.
const defaultContinueDelaySeconds = 5

// TurnContext is everything the narrative engine sees for one turn.
type TurnContext struct {
	ConversationID string
	UserMessage    string
	History        []conversation.LogEntry
	PendingResults []conversation.PendingResult
	ActiveGoal     *goal.Goal
}

// NarrativeResult is what the narrative engine produces for one turn.
type NarrativeResult struct {
	SpeechText           string
	ToolIntents          []conversation.ToolIntent
	ContinueConversation bool
}

// NarrativeEngine produces the persona's spoken reply and any tool intents
// for a turn. The model call behind it is not this package's business.
type NarrativeEngine interface {
	Generate(ctx context.Context, turn TurnContext) (*NarrativeResult, error)
}

// TurnRequest is one inbound conversation turn.
type TurnRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// TurnResponse is the coordinator's answer to one turn.
type TurnResponse struct {
	ConversationID       string `json:"conversation_id"`
	ResponseType         string `json:"response_type"`
	SpeechText           string `json:"speech_text"`
	ContinueConversation bool   `json:"continue_conversation"`
	ContinueDelaySeconds int    `json:"continue_delay_seconds,omitempty"`
}

// TurnCoordinator runs the turn pipeline: drain buffered tool results, hand
// the turn to the narrative engine, record the exchange, and dispatch any new
// tool intents out-of-band.
type TurnCoordinator struct {
	conversations conversation.Store
	pending       *pending.Store
	engine        NarrativeEngine
	executor      *executor.AsyncToolExecutor
	goals         *goal.Manager
	goalScope     string
	logger        logging.Logger
	now           Clock
}

// Clock supplies the current time.
type Clock func() time.Time

// NewTurnCoordinator wires the turn pipeline.
func NewTurnCoordinator(
	conversations conversation.Store,
	pendingStore *pending.Store,
	engine NarrativeEngine,
	exec *executor.AsyncToolExecutor,
	goals *goal.Manager,
	goalScope string,
	logger logging.Logger,
	now Clock,
) *TurnCoordinator {
	if goalScope == "" {
		goalScope = goal.DefaultScope
	}
	if now == nil {
		now = time.Now
	}
	return &TurnCoordinator{
		conversations: conversations,
		pending:       pendingStore,
		engine:        engine,
		executor:      exec,
		goals:         goals,
		goalScope:     goalScope,
		logger:        logging.OrNop(logger),
		now:           now,
	}
}

// ProcessTurn handles one conversation turn. Tool intents returned by the
// engine are dispatched after the reply is recorded; the response returns
// immediately and their outcomes surface on a later turn.
func (tc *TurnCoordinator) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	ctx, span := tracer.Start(ctx, "app.ProcessTurn")
	defer span.End()

	conv, err := tc.conversations.Create(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if conv.Status == conversation.StatusEnded {
		// a turn against an ended conversation starts a fresh one
		conv, err = tc.conversations.Create(ctx, id.NewConversationID())
		if err != nil {
			return nil, fmt.Errorf("resolve conversation: %w", err)
		}
	}
	ctx = id.WithConversationID(ctx, conv.ID)
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	drained, err := tc.pending.DrainUnprocessed(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("drain pending results: %w", err)
	}
	if len(drained) > 0 {
		tc.logger.Info("Folding %d buffered tool results into turn for %s", len(drained), conv.ID)
	}

	activeGoal, err := tc.goals.ActiveGoal(ctx, tc.goalScope)
	if err != nil {
		tc.logger.Warn("Could not load active goal: %v", err)
	}

	result, err := tc.engine.Generate(ctx, TurnContext{
		ConversationID: conv.ID,
		UserMessage:    req.Text,
		History:        conv.Entries,
		PendingResults: drained,
		ActiveGoal:     activeGoal,
	})
	if err != nil {
		tc.logger.Error("Narrative engine failed for %s: %v", conv.ID, err)
		return &TurnResponse{
			ConversationID: conv.ID,
			ResponseType:   ResponseTypeError,
			SpeechText:     "Something glitched in my circuits. Say that again?",
		}, nil
	}

	turnAt := tc.now()
	if err := tc.conversations.Update(ctx, conv.ID, func(c *conversation.Conversation) error {
		if req.Text != "" {
			c.Entries = append(c.Entries, conversation.LogEntry{
				Timestamp: turnAt, Role: conversation.RoleUser, Text: req.Text,
			})
		}
		c.Entries = append(c.Entries, conversation.LogEntry{
			Timestamp: turnAt, Role: conversation.RolePersona, Text: result.SpeechText,
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}

	resp := &TurnResponse{
		ConversationID:       conv.ID,
		ResponseType:         ResponseTypeNormal,
		SpeechText:           result.SpeechText,
		ContinueConversation: result.ContinueConversation,
	}
	if len(result.ToolIntents) > 0 {
		tc.dispatchIntents(ctx, conv.ID, req.Text, result.ToolIntents)
		resp.ResponseType = ResponseTypeBackgroundTools
		resp.ContinueConversation = true
		resp.ContinueDelaySeconds = defaultContinueDelaySeconds
	}
	return resp, nil
}

// dispatchIntents fires one out-of-band dispatch per intent. ProcessTurn does
// not wait for any of them.
func (tc *TurnCoordinator) dispatchIntents(ctx context.Context, conversationID, userMessage string, intents []conversation.ToolIntent) {
	for _, intent := range intents {
		tc.executor.Submit(ctx, executor.Dispatch{
			ToolType:       intent.Tool,
			RequestText:    intent.Intent,
			ConversationID: conversationID,
			UserMessage:    userMessage,
			Intents:        []conversation.ToolIntent{intent},
		})
	}
	tc.logger.Info("Dispatched %d tool intents for %s", len(intents), conversationID)
}

// EndConversation ends the conversation explicitly.
func (tc *TurnCoordinator) EndConversation(ctx context.Context, conversationID string) error {
	return tc.conversations.End(ctx, conversationID)
}
