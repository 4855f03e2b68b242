// Package logging carries per-request and per-message identifiers in a
// context so that every log line written under it can include them.
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	messageIDKey ctxKey = iota
	serviceNameKey
	eventNameKey
	requestIDKey
)

// RequestIDKey is the gin context key holding the request ID.
const RequestIDKey = "request_id"

// fields lists the keys GetLogFields emits, in output order.
var fields = []struct {
	key  ctxKey
	name string
}{
	{messageIDKey, "message_id"},
	{serviceNameKey, "service_name"},
	{eventNameKey, "event_name"},
	{requestIDKey, "request_id"},
}

func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageIDKey, id)
}

func WithServiceName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, serviceNameKey, name)
}

func WithEventName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, eventNameKey, name)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetServiceName(ctx context.Context) string { return value(ctx, serviceNameKey) }

func GetRequestID(ctx context.Context) string { return value(ctx, requestIDKey) }

func value(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// GetLogFields returns the identifiers set on ctx as key/value pairs, plus
// trace_id when ctx carries a valid span.
func GetLogFields(ctx context.Context) []interface{} {
	out := make([]interface{}, 0, 2*(len(fields)+1))

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		out = append(out, "trace_id", sc.TraceID().String())
	}
	for _, f := range fields {
		if v := value(ctx, f.key); v != "" {
			out = append(out, f.name, v)
		}
	}
	return out
}
