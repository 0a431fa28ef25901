package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func openSQLite(t *testing.T, opts ...store.SQLiteOption) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleCredential() portal.Credential {
	return portal.Credential{
		Identity:     portal.Identity{UID: "auth0|123", Email: "a@example.com", DisplayName: "Ann"},
		AccessToken:  "access",
		RefreshToken: "refresh",
		IDToken:      "id",
		TokenType:    "Bearer",
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := openSQLite(t, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := s.Load(ctx)
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))

	require.NoError(t, s.Save(ctx, sampleCredential()))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "auth0|123", got.Identity.UID)
	assert.Equal(t, "Ann", got.Identity.DisplayName)
	assert.Equal(t, "refresh", got.RefreshToken)
	assert.Equal(t, "id", got.IDToken)
	assert.True(t, sampleCredential().ExpiresAt.Equal(got.ExpiresAt))
	assert.True(t, now.Equal(got.UpdatedAt))
}

func TestSQLiteSaveReplaces(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleCredential()))

	next := sampleCredential()
	next.AccessToken = "access-2"
	next.ExpiresAt = time.Time{}
	require.NoError(t, s.Save(ctx, next))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.True(t, got.ExpiresAt.IsZero())
}

func TestSQLiteKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"

	first, err := store.OpenSQLite(ctx, dsn, store.WithKey("first"))
	require.NoError(t, err)
	defer first.Close()
	second, err := store.OpenSQLite(ctx, dsn, store.WithKey("second"))
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.Save(ctx, sampleCredential()))

	_, err = second.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNoCredential)

	require.NoError(t, first.Clear(ctx))
	_, err = first.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNoCredential)
	require.NoError(t, second.Clear(ctx))
}

func TestSQLiteSaveUpdatesSingleRow(t *testing.T) {
	ctx := context.Background()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db := bun.NewDB(sqldb, sqlitedialect.New())

	s, err := store.NewSQLite(ctx, db, store.WithKey("work"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Save(ctx, sampleCredential()))

	next := sampleCredential()
	next.Identity = portal.Identity{UID: "auth0|456", Email: "b@example.com"}
	next.RefreshToken = ""
	require.NoError(t, s.Save(ctx, next))
	require.NoError(t, s.Save(ctx, next))

	count, err := db.NewSelect().Table("portal_credentials").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "auth0|456", got.Identity.UID)
	assert.Empty(t, got.Identity.DisplayName)
	assert.Empty(t, got.RefreshToken)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	count, err = db.NewSelect().Table("portal_credentials").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryStore(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNoCredential)

	require.NoError(t, s.Save(ctx, sampleCredential()))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, 1, s.Saves())

	got.AccessToken = "mutated"
	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access", again.AccessToken)

	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNoCredential)
}
