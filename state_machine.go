package portal

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// State is the session lifecycle state.
type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateTokenExpiring  State = "token_expiring"
)

const textCodeInvalidTransition = "INVALID_SESSION_STATE_TRANSITION"

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	UserID   string
	Metadata map[string]any
}

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	metadata TransitionMetadata
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionUser records the user the transition applies to.
func WithTransitionUser(uid string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.UserID = uid
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*SessionStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish transitions.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *SessionStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// SessionStateMachine tracks the session state:
//
//	anonymous -> authenticating -> authenticated -> token_expiring -> authenticated | anonymous
type SessionStateMachine struct {
	mu           sync.Mutex
	current      State
	transitions  map[State]map[State]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// NewSessionStateMachine returns a machine in the anonymous state.
func NewSessionStateMachine(opts ...StateMachineOption) *SessionStateMachine {
	sm := &SessionStateMachine{
		current: StateAnonymous,
		transitions: map[State]map[State]struct{}{
			StateAnonymous: {
				StateAuthenticating: {},
			},
			StateAuthenticating: {
				StateAuthenticated: {},
				StateAnonymous:     {},
			},
			StateAuthenticated: {
				StateTokenExpiring:  {},
				StateAuthenticating: {},
				StateAnonymous:      {},
			},
			StateTokenExpiring: {
				StateAuthenticated:  {},
				StateAuthenticating: {},
				StateAnonymous:      {},
			},
		},
		now:          time.Now,
		activitySink: ActivitySinkFunc(nil),
		logger:       defLogger{name: "session.state"},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// Current returns the current state.
func (sm *SessionStateMachine) Current() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// CanTransition reports whether from -> to is in the transition table.
func (sm *SessionStateMachine) CanTransition(from, to State) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// Transition moves the machine to target. Moving to the current state is a
// no-op.
func (sm *SessionStateMachine) Transition(ctx context.Context, target State, opts ...TransitionOption) (State, error) {
	if target == "" {
		return "", ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"reason": "target state is empty",
		})
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	sm.mu.Lock()
	from := sm.current
	if from == target {
		sm.mu.Unlock()
		return target, nil
	}

	if !sm.CanTransition(from, target) {
		sm.mu.Unlock()
		return from, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	sm.current = target
	sm.mu.Unlock()

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventStateChanged,
		UserID:    options.metadata.UserID,
		FromState: from,
		ToState:   target,
		Metadata:  transitionMetadata(options.metadata),
	})

	return target, nil
}

func (sm *SessionStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error", "error", err)
	}
}

func transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
