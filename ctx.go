package portal

import "context"

var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithSession stores a session snapshot in the context. Page handlers use it
// to pass the session down a call chain without reaching for the provider.
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*Session)
	if !ok || raw == nil {
		return nil, false
	}
	return raw, true
}

// IsAdmin is a convenience check on the context session.
func IsAdmin(ctx context.Context) bool {
	session, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return session.IsAdmin()
}
