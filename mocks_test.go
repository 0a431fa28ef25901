package portal_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-portal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockIdentityProvider implements portal.IdentityProvider. Changes are
// published through the embedded feed.
type MockIdentityProvider struct {
	portal.ChangeFeed
	mock.Mock
}

func (m *MockIdentityProvider) SignIn(ctx context.Context, email, password string) (*portal.Identity, error) {
	args := m.Called(ctx, email, password)
	identity, _ := args.Get(0).(*portal.Identity)
	return identity, args.Error(1)
}

func (m *MockIdentityProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityProvider) Token(ctx context.Context, forceRefresh bool) (portal.Token, error) {
	args := m.Called(ctx, forceRefresh)
	return args.Get(0).(portal.Token), args.Error(1)
}

// signIn publishes identity with token, as a real provider does when a
// sign in succeeds.
func (m *MockIdentityProvider) signIn(identity portal.Identity, token string) {
	m.Publish(portal.IdentityChange{Identity: &identity, Token: portal.Token{Value: token}})
}

func (m *MockIdentityProvider) signOut() {
	m.Publish(portal.IdentityChange{})
}

// MockProfileService implements portal.ProfileService
type MockProfileService struct {
	mock.Mock
}

func (m *MockProfileService) FetchProfile(ctx context.Context, token string) (*portal.Profile, error) {
	args := m.Called(ctx, token)
	if fn, ok := args.Get(0).(func(context.Context, string) *portal.Profile); ok {
		return fn(ctx, token), args.Error(1)
	}
	profile, _ := args.Get(0).(*portal.Profile)
	return profile, args.Error(1)
}

func (m *MockProfileService) Register(ctx context.Context, input portal.SignUpInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

// activityRecorder collects activity events.
type activityRecorder struct {
	mu     sync.Mutex
	events []portal.ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event portal.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) types() []portal.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]portal.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *activityRecorder) has(eventType portal.ActivityEventType) bool {
	for _, t := range r.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

func waitReady(t *testing.T, p *portal.Provider) {
	t.Helper()
	select {
	case <-p.Ready():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "provider never became ready")
	}
}
