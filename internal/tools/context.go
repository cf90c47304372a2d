package tools

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	eventSinkKey contextKey = "event_sink"
)

// WithSessionID adds the chat session ID to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the chat session ID from the context.
// Returns "default" if not set.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		return id
	}
	return "default"
}

// EventSink receives tool events for one chat request.
type EventSink func(Event)

// WithEventSink attaches a sink for tool events. A nil sink returns ctx
// unchanged.
func WithEventSink(ctx context.Context, sink EventSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, eventSinkKey, sink)
}

// EventSinkFromContext returns the context's event sink, or nil.
func EventSinkFromContext(ctx context.Context) EventSink {
	if s, ok := ctx.Value(eventSinkKey).(EventSink); ok {
		return s
	}
	return nil
}

func emit(ctx context.Context, ev Event) {
	if sink := EventSinkFromContext(ctx); sink != nil {
		sink(ev)
	}
}
