package id

import "context"

type contextKey string

const (
	conversationKey contextKey = "glitchcube_conversation_id"
	runKey          contextKey = "glitchcube_run_id"
)

// WithConversationID stores the conversation identifier on the context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	if conversationID == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationKey, conversationID)
}

// ConversationIDFromContext returns the conversation identifier, or "".
func ConversationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(conversationKey).(string); ok {
		return v
	}
	return ""
}

// WithRunID stores the current dispatch run identifier on the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey, runID)
}

// RunIDFromContext returns the dispatch run identifier, or "".
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runKey).(string); ok {
		return v
	}
	return ""
}
