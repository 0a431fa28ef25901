package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/provider/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newProvider(opts ...memory.Option) *memory.Provider {
	return memory.New(append([]memory.Option{memory.WithHashCost(bcrypt.MinCost)}, opts...)...)
}

func TestCreateUserAndSignIn(t *testing.T) {
	p := newProvider()
	ctx := context.Background()

	created, err := p.CreateUser(ctx, " Ann@Example.com ", "secret1", " Ann ")
	require.NoError(t, err)
	assert.NotEmpty(t, created.UID)
	assert.Equal(t, "ann@example.com", created.Email)
	assert.Equal(t, "Ann", created.DisplayName)

	changes, unsubscribe := p.Subscribe()
	defer unsubscribe()
	assert.False(t, (<-changes).SignedIn())

	identity, err := p.SignIn(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, created.UID, identity.UID)

	change := <-changes
	require.True(t, change.SignedIn())
	assert.Equal(t, created.UID, change.Identity.UID)
	assert.NotEmpty(t, change.Token.Value)

	verified, err := p.Verify(change.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, created.UID, verified.UID)
}

func TestCreateUserRejections(t *testing.T) {
	p := newProvider()
	ctx := context.Background()

	_, err := p.CreateUser(ctx, "nope", "secret1", "x")
	assert.True(t, portal.HasTextCode(err, portal.TextCodeInvalidEmail))

	_, err = p.CreateUser(ctx, "a@example.com", "123", "x")
	assert.ErrorIs(t, err, portal.ErrWeakPassword)

	_, err = p.CreateUser(ctx, "a@example.com", "secret1", "x")
	require.NoError(t, err)
	_, err = p.CreateUser(ctx, "A@example.com", "secret1", "x")
	assert.True(t, portal.HasTextCode(err, portal.TextCodeEmailInUse))
}

func TestSignInRejections(t *testing.T) {
	p := newProvider()
	ctx := context.Background()

	created, err := p.CreateUser(ctx, "a@example.com", "secret1", "A")
	require.NoError(t, err)

	_, err = p.SignIn(ctx, "a@example.com", "wrong")
	assert.ErrorIs(t, err, portal.ErrInvalidCredentials)

	_, err = p.SignIn(ctx, "missing@example.com", "secret1")
	assert.ErrorIs(t, err, portal.ErrInvalidCredentials)

	p.DisableUser(created.UID)
	_, err = p.SignIn(ctx, "a@example.com", "secret1")
	assert.ErrorIs(t, err, portal.ErrUserDisabled)
}

func TestTokenRefresh(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p := newProvider(memory.WithClock(clock), memory.WithTokenTTL(time.Minute))
	ctx := context.Background()

	_, err := p.Token(ctx, false)
	assert.ErrorIs(t, err, portal.ErrNotAuthenticated)

	_, err = p.CreateUser(ctx, "a@example.com", "secret1", "A")
	require.NoError(t, err)
	_, err = p.SignIn(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	first, err := p.Token(ctx, false)
	require.NoError(t, err)
	assert.True(t, now.Add(time.Minute).Equal(first.ExpiresAt))
	assert.Zero(t, p.Refreshes())

	forced, err := p.Token(ctx, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, forced.Value)
	assert.Equal(t, 1, p.Refreshes())

	now = now.Add(2 * time.Minute)
	expired, err := p.Token(ctx, false)
	require.NoError(t, err)
	assert.NotEqual(t, forced.Value, expired.Value)
	assert.Equal(t, 2, p.Refreshes())
}

func TestVerifyRejectsRevokedAndExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := newProvider(memory.WithClock(func() time.Time { return now }), memory.WithTokenTTL(time.Minute))
	ctx := context.Background()

	created, err := p.CreateUser(ctx, "a@example.com", "secret1", "A")
	require.NoError(t, err)
	_, err = p.SignIn(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	token, err := p.Token(ctx, false)
	require.NoError(t, err)

	p.RevokeTokens(created.UID)
	_, err = p.Verify(token.Value)
	assert.True(t, portal.HasTextCode(err, portal.TextCodeSessionExpired))

	fresh, err := p.Token(ctx, true)
	require.NoError(t, err)
	_, err = p.Verify(fresh.Value)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = p.Verify(fresh.Value)
	assert.True(t, portal.HasTextCode(err, portal.TextCodeSessionExpired))

	_, err = p.Verify("garbage")
	assert.True(t, portal.HasTextCode(err, portal.TextCodeNotAuthenticated))

	other := newProvider()
	_, err = other.Verify(fresh.Value)
	assert.Error(t, err)
}

func TestFailRefresh(t *testing.T) {
	p := newProvider()
	ctx := context.Background()

	_, err := p.CreateUser(ctx, "a@example.com", "secret1", "A")
	require.NoError(t, err)
	_, err = p.SignIn(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	p.FailRefresh(portal.ErrSessionExpired)
	_, err = p.Token(ctx, true)
	assert.ErrorIs(t, err, portal.ErrSessionExpired)

	p.FailRefresh(nil)
	_, err = p.Token(ctx, true)
	assert.NoError(t, err)
}

func TestDeleteSignedInUserInvalidates(t *testing.T) {
	p := newProvider()
	ctx := context.Background()

	created, err := p.CreateUser(ctx, "a@example.com", "secret1", "A")
	require.NoError(t, err)
	_, err = p.SignIn(ctx, "a@example.com", "secret1")
	require.NoError(t, err)
	assert.True(t, p.Current().SignedIn())

	p.DeleteUser(created.UID)

	assert.False(t, p.Current().SignedIn())
	_, found := p.Lookup("a@example.com")
	assert.False(t, found)
	_, err = p.Token(ctx, false)
	assert.ErrorIs(t, err, portal.ErrNotAuthenticated)
}

func TestSignOutPublishes(t *testing.T) {
	p := newProvider()
	ctx := context.Background()

	_, err := p.CreateUser(ctx, "a@example.com", "secret1", "A")
	require.NoError(t, err)
	_, err = p.SignIn(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	changes, unsubscribe := p.Subscribe()
	defer unsubscribe()
	assert.True(t, (<-changes).SignedIn())

	require.NoError(t, p.SignOut(ctx))
	assert.False(t, (<-changes).SignedIn())
}
