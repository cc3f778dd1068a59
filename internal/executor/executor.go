// Package executor runs tool dispatches out-of-band so conversation turns
// never wait on device actions.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"glitchcube/internal/async"
	"glitchcube/internal/conversation"
	"glitchcube/internal/logging"
	"glitchcube/internal/observability"
	"glitchcube/internal/pending"
	"glitchcube/internal/toolagent"
)

var tracer = otel.Tracer("glitchcube/executor")

// AgentClient executes one action request against the external automation
// agent. Implementations return outcomes, never errors.
type AgentClient interface {
	Execute(ctx context.Context, requestText string) toolagent.Outcome
}

// Dispatch describes one out-of-band tool execution request.
type Dispatch struct {
	ToolType       string
	RequestText    string
	ConversationID string

	// Turn context carried into the result record so the next turn can see
	// what prompted it.
	UserMessage string
	Intents     []conversation.ToolIntent
}

// AsyncToolExecutor runs dispatches on a bounded worker pool. Every dispatch
// appends exactly one pending result before it finishes, whether the call
// succeeded, failed, or panicked.
type AsyncToolExecutor struct {
	client  AgentClient
	pending *pending.Store
	slots   *semaphore.Weighted
	logger  logging.Logger
	metrics *observability.Metrics
	clock   func() time.Time
	wg      sync.WaitGroup
}

// Option configures the executor.
type Option func(*AsyncToolExecutor)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *AsyncToolExecutor) { e.clock = clock }
}

// New creates an executor with at most poolSize concurrent dispatches.
func New(client AgentClient, pendingStore *pending.Store, poolSize int, logger logging.Logger, metrics *observability.Metrics, opts ...Option) *AsyncToolExecutor {
	if poolSize <= 0 {
		poolSize = 8
	}
	e := &AsyncToolExecutor{
		client:  client,
		pending: pendingStore,
		slots:   semaphore.NewWeighted(int64(poolSize)),
		logger:  logging.OrNop(logger),
		metrics: metrics,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit schedules d and returns immediately. The dispatch runs on a detached
// context: cancelling the caller's request does not cancel an in-flight
// dispatch, which always runs to completion.
func (e *AsyncToolExecutor) Submit(ctx context.Context, d Dispatch) {
	detached := context.WithoutCancel(ctx)
	e.wg.Add(1)
	async.Go(e.logger, "dispatch-"+d.ToolType, func() {
		defer e.wg.Done()
		if err := e.slots.Acquire(detached, 1); err != nil {
			// Unreachable with a detached context, but a slot we did not
			// get is a slot we must not release.
			e.logger.Error("Dispatch slot acquire failed for %s: %v", d.ConversationID, err)
			return
		}
		defer e.slots.Release(1)
		e.run(detached, d)
	})
}

// Wait blocks until all in-flight dispatches have finished or ctx expires.
func (e *AsyncToolExecutor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes the dispatch and records its result. The record append lives in
// a deferred block so it happens on every exit path, panics included.
func (e *AsyncToolExecutor) run(ctx context.Context, d Dispatch) {
	ctx, span := tracer.Start(ctx, "executor.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.type", d.ToolType),
		attribute.String("conversation.id", d.ConversationID),
	)

	start := e.clock()
	record := conversation.PendingResult{
		Timestamp:   start,
		UserMessage: d.UserMessage,
		ToolIntents: d.Intents,
		AgentType:   d.ToolType,
	}
	status := "success"

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			record.Response = nil
			record.Error = fmt.Sprintf("dispatch panicked: %v", r)
			e.logger.Error("Dispatch panic [%s/%s]: %v, stack: %s",
				d.ToolType, d.ConversationID, r, debug.Stack())
		}
		e.metrics.ObserveDispatch(d.ToolType, status, e.clock().Sub(start))
		if err := e.pending.Append(ctx, d.ConversationID, record); err != nil {
			e.logger.Error("Failed to record dispatch result for %s: %v", d.ConversationID, err)
		}
	}()

	outcome := e.client.Execute(ctx, d.RequestText)
	record.Response = &conversation.ResultPayload{
		Success:       outcome.Success,
		Message:       outcome.Message,
		FailedActions: outcome.FailedActions,
	}
	if !outcome.Success {
		status = "failure"
		record.Error = outcome.Error
	}
}
