package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID   contextKey = "trace_id"
	keyUserID    contextKey = "user_id"
	keyRunID     contextKey = "run_id"
	keyTaskID    contextKey = "task_id"
	keyAgentName contextKey = "agent_name"
)

func withString(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withString(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyTraceID)
}

// WithUserID adds the owning user ID to context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return withString(ctx, keyUserID, userID)
}

// UserID extracts user ID from context.
func UserID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyUserID)
}

// WithRunID adds run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withString(ctx, keyRunID, runID)
}

// RunID extracts run ID from context.
func RunID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyRunID)
}

// WithTaskID adds the workflow task ID to context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return withString(ctx, keyTaskID, taskID)
}

// TaskID extracts the workflow task ID from context.
func TaskID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyTaskID)
}

// WithAgentName records the agent currently holding the conversation.
func WithAgentName(ctx context.Context, name string) context.Context {
	return withString(ctx, keyAgentName, name)
}

// AgentName extracts the active agent name from context.
func AgentName(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyAgentName)
}
