package portal

import (
	"context"
	"time"
)

// ActivityEventType names a session lifecycle event.
type ActivityEventType string

const (
	ActivityEventStateChanged  ActivityEventType = "session.state.changed"
	ActivityEventSignedIn      ActivityEventType = "session.signed_in"
	ActivityEventSignInFailed  ActivityEventType = "session.sign_in_failed"
	ActivityEventSignedOut     ActivityEventType = "session.signed_out"
	ActivityEventRefreshed     ActivityEventType = "session.refreshed"
	ActivityEventRefreshFailed ActivityEventType = "session.refresh_failed"
	ActivityEventProfileFailed ActivityEventType = "session.profile_failed"
	ActivityEventSignedUp      ActivityEventType = "session.signed_up"
)

// ActivityEvent describes one session lifecycle step.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	FromState  State
	ToState    State
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink receives session lifecycle events. Errors are logged by the
// caller and never abort the operation that produced the event.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to ActivitySink. A nil func drops events.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// ActivitySinks delivers each event to every sink in order and returns the
// first error.
type ActivitySinks []ActivitySink

// Record implements ActivitySink.
func (s ActivitySinks) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LoggerActivitySink writes events to logger at debug level.
func LoggerActivitySink(logger Logger) ActivitySink {
	if logger == nil {
		return ActivitySinkFunc(nil)
	}
	return ActivitySinkFunc(func(_ context.Context, event ActivityEvent) error {
		args := []any{"event", string(event.EventType)}
		if event.UserID != "" {
			args = append(args, "uid", event.UserID)
		}
		if event.FromState != event.ToState {
			args = append(args, "from", string(event.FromState), "to", string(event.ToState))
		}
		for k, v := range event.Metadata {
			args = append(args, k, v)
		}
		logger.Debug("session activity", args...)
		return nil
	})
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return ActivitySinkFunc(nil)
	}
	return s
}
