package logger

import "context"

// Request correlation helpers. internal/api's request-id middleware
// stamps every inbound HTTP request with a trace ID; the scheduler
// carries it onto each scan tick's context so an alert emitted from a
// forced /rescan can be traced back to the request that triggered it.

type contextKey string

const traceIDKey contextKey = "trace_id"

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from context, or "" if unset.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}
