package portal_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goliatone/go-portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) add(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintln(append([]any{level, msg}, args...)...))
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("DEBUG", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("INFO", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("WARN", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("ERROR", msg, args...) }

func TestActivitySinksDeliverToAll(t *testing.T) {
	var first, second []portal.ActivityEventType
	boom := errors.New("boom")

	sinks := portal.ActivitySinks{
		portal.ActivitySinkFunc(func(_ context.Context, e portal.ActivityEvent) error {
			first = append(first, e.EventType)
			return boom
		}),
		nil,
		portal.ActivitySinkFunc(func(_ context.Context, e portal.ActivityEvent) error {
			second = append(second, e.EventType)
			return errors.New("later")
		}),
	}

	err := sinks.Record(context.Background(), portal.ActivityEvent{EventType: portal.ActivityEventSignedIn})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []portal.ActivityEventType{portal.ActivityEventSignedIn}, first)
	assert.Equal(t, []portal.ActivityEventType{portal.ActivityEventSignedIn}, second)
}

func TestNilActivitySinkFunc(t *testing.T) {
	var sink portal.ActivitySinkFunc
	assert.NoError(t, sink.Record(context.Background(), portal.ActivityEvent{}))
	assert.NoError(t, portal.LoggerActivitySink(nil).Record(context.Background(), portal.ActivityEvent{}))
}

func TestLoggerActivitySink(t *testing.T) {
	logger := &captureLogger{}
	sink := portal.LoggerActivitySink(logger)

	require.NoError(t, sink.Record(context.Background(), portal.ActivityEvent{
		EventType: portal.ActivityEventStateChanged,
		UserID:    "u1",
		FromState: portal.StateAnonymous,
		ToState:   portal.StateAuthenticating,
	}))

	require.Len(t, logger.lines, 1)
	line := logger.lines[0]
	assert.Contains(t, line, "DEBUG")
	assert.Contains(t, line, "session.state.changed")
	assert.Contains(t, line, "u1")
	assert.Contains(t, line, "authenticating")
}
