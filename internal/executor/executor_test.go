package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"glitchcube/internal/conversation"
	"glitchcube/internal/conversation/memstore"
	"glitchcube/internal/logging"
	"glitchcube/internal/observability"
	"glitchcube/internal/pending"
	"glitchcube/internal/toolagent"
)

type fakeAgent struct {
	mu       sync.Mutex
	requests []string
	outcome  toolagent.Outcome
	panicMsg string
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeAgent) Execute(ctx context.Context, requestText string) toolagent.Outcome {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.requests = append(f.requests, requestText)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.outcome
}

func newHarness(t *testing.T, agent *fakeAgent, poolSize int) (*AsyncToolExecutor, conversation.Store, string) {
	t.Helper()
	conversations := memstore.New()
	metrics := observability.MustNewMetrics(prometheus.NewRegistry())
	pendingStore := pending.NewStore(conversations, logging.Nop(), metrics)
	exec := New(agent, pendingStore, poolSize, logging.Nop(), metrics)
	conv, err := conversations.Create(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	return exec, conversations, conv.ID
}

func waitAll(t *testing.T, exec *AsyncToolExecutor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSubmitRecordsSuccessOutcome(t *testing.T) {
	agent := &fakeAgent{outcome: toolagent.Outcome{
		Success: true,
		Message: "Successfully completed 2 actions",
	}}
	exec, conversations, convID := newHarness(t, agent, 4)

	exec.Submit(context.Background(), Dispatch{
		ToolType:       "conversation",
		RequestText:    "turn on the lights",
		ConversationID: convID,
		UserMessage:    "make it bright in here",
		Intents:        []conversation.ToolIntent{{Tool: "lights", Intent: "on"}},
	})
	waitAll(t, exec)

	conv, _ := conversations.Get(context.Background(), convID)
	results := conv.Metadata.PendingResults
	if len(results) != 1 {
		t.Fatalf("got %d pending results, want 1", len(results))
	}
	pr := results[0]
	if pr.Response == nil || !pr.Response.Success {
		t.Fatalf("response = %+v", pr.Response)
	}
	if pr.Response.Message != "Successfully completed 2 actions" {
		t.Errorf("message = %q", pr.Response.Message)
	}
	if pr.UserMessage != "make it bright in here" {
		t.Errorf("user message = %q", pr.UserMessage)
	}
	if len(pr.ToolIntents) != 1 || pr.ToolIntents[0].Tool != "lights" {
		t.Errorf("intents = %v", pr.ToolIntents)
	}
	if pr.Error != "" || pr.Processed {
		t.Errorf("fresh record: error=%q processed=%v", pr.Error, pr.Processed)
	}
}

func TestSubmitRecordsFailureOutcome(t *testing.T) {
	agent := &fakeAgent{outcome: toolagent.Outcome{
		Success:       false,
		Error:         "no actions were completed successfully",
		FailedActions: []string{"Porch Light"},
	}}
	exec, conversations, convID := newHarness(t, agent, 4)

	exec.Submit(context.Background(), Dispatch{
		ToolType:       "conversation",
		RequestText:    "porch lights",
		ConversationID: convID,
	})
	waitAll(t, exec)

	conv, _ := conversations.Get(context.Background(), convID)
	if len(conv.Metadata.PendingResults) != 1 {
		t.Fatalf("got %d results", len(conv.Metadata.PendingResults))
	}
	pr := conv.Metadata.PendingResults[0]
	if pr.Error != "no actions were completed successfully" {
		t.Errorf("error = %q", pr.Error)
	}
	if pr.Response == nil || pr.Response.Success {
		t.Errorf("response = %+v", pr.Response)
	}
}

func TestPanicStillAppendsExactlyOneRecord(t *testing.T) {
	agent := &fakeAgent{panicMsg: "agent exploded"}
	exec, conversations, convID := newHarness(t, agent, 4)

	exec.Submit(context.Background(), Dispatch{
		ToolType:       "conversation",
		RequestText:    "boom",
		ConversationID: convID,
		UserMessage:    "original message",
	})
	waitAll(t, exec)

	conv, _ := conversations.Get(context.Background(), convID)
	if len(conv.Metadata.PendingResults) != 1 {
		t.Fatalf("got %d results, want exactly 1", len(conv.Metadata.PendingResults))
	}
	pr := conv.Metadata.PendingResults[0]
	if pr.Error == "" {
		t.Error("panic should produce an error record")
	}
	if pr.Response != nil {
		t.Error("panic record should carry no response payload")
	}
	if pr.UserMessage != "original message" {
		t.Errorf("user message lost: %q", pr.UserMessage)
	}
}

func TestSubmitSurvivesCallerCancellation(t *testing.T) {
	agent := &fakeAgent{
		delay:   30 * time.Millisecond,
		outcome: toolagent.Outcome{Success: true, Message: "Successfully completed 1 actions"},
	}
	exec, conversations, convID := newHarness(t, agent, 4)

	ctx, cancel := context.WithCancel(context.Background())
	exec.Submit(ctx, Dispatch{
		ToolType:       "conversation",
		RequestText:    "slow thing",
		ConversationID: convID,
	})
	cancel() // caller gives up immediately
	waitAll(t, exec)

	conv, _ := conversations.Get(context.Background(), convID)
	if len(conv.Metadata.PendingResults) != 1 {
		t.Fatal("cancelled caller must not cancel the dispatch")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	agent := &fakeAgent{
		delay:   20 * time.Millisecond,
		outcome: toolagent.Outcome{Success: true, Message: "Successfully completed 1 actions"},
	}
	exec, conversations, convID := newHarness(t, agent, 2)

	for i := 0; i < 8; i++ {
		exec.Submit(context.Background(), Dispatch{
			ToolType:       "conversation",
			RequestText:    fmt.Sprintf("req-%d", i),
			ConversationID: convID,
		})
	}
	waitAll(t, exec)

	if max := agent.maxSeen.Load(); max > 2 {
		t.Errorf("observed %d concurrent dispatches, pool size 2", max)
	}
	conv, _ := conversations.Get(context.Background(), convID)
	if len(conv.Metadata.PendingResults) != 8 {
		t.Errorf("got %d results, want 8", len(conv.Metadata.PendingResults))
	}
}
