package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID        contextKey = "trace_id"
	keyTaskID         contextKey = "task_id"
	keyConversationID contextKey = "conversation_id"
	keyRequestID      contextKey = "request_id"
	keyProviderID     contextKey = "provider_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithTaskID adds task ID to context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, keyTaskID, taskID)
}

// TaskID extracts task ID from context.
func TaskID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTaskID).(string)
	return v, ok && v != ""
}

// WithConversationID adds conversation ID to context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, keyConversationID, conversationID)
}

// ConversationID extracts conversation ID from context.
func ConversationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyConversationID).(string)
	return v, ok && v != ""
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithProviderID adds provider ID to context.
func WithProviderID(ctx context.Context, providerID string) context.Context {
	return context.WithValue(ctx, keyProviderID, providerID)
}

// ProviderID extracts provider ID from context.
func ProviderID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyProviderID).(string)
	return v, ok && v != ""
}

// WithRequestKey adds both halves of a request key to context.
func WithRequestKey(ctx context.Context, key RequestKey) context.Context {
	return WithRequestID(WithConversationID(ctx, key.ConversationID), key.RequestID)
}
