// Package store persists identity provider credentials so a session can be
// restored after a restart.
package store

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// DefaultKey is the row used when no key is configured.
const DefaultKey = "default"

var clearCredentialSQL = `DELETE FROM "portal_credentials" WHERE "id" = ? RETURNING *;`

// credentialRecord is the stored form of portal.Credential.
type credentialRecord struct {
	bun.BaseModel `bun:"table:portal_credentials,alias:pc"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid"`
	AccountKey    string     `bun:"account_key,notnull,unique"`
	UID           string     `bun:"uid,notnull"`
	Email         string     `bun:"email"`
	DisplayName   string     `bun:"display_name"`
	AccessToken   string     `bun:"access_token,notnull"`
	RefreshToken  string     `bun:"refresh_token"`
	IDToken       string     `bun:"id_token"`
	TokenType     string     `bun:"token_type"`
	ExpiresAt     *time.Time `bun:"expires_at,nullzero"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull"`
}

// recordID maps a store key to a stable row id.
func recordID(key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:go-portal:credential:"+key))
}

func recordFrom(key string, c portal.Credential) *credentialRecord {
	rec := &credentialRecord{
		ID:           recordID(key),
		AccountKey:   key,
		UID:          c.Identity.UID,
		Email:        c.Identity.Email,
		DisplayName:  c.Identity.DisplayName,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		IDToken:      c.IDToken,
		TokenType:    c.TokenType,
		UpdatedAt:    c.UpdatedAt,
	}
	if !c.ExpiresAt.IsZero() {
		exp := c.ExpiresAt.UTC()
		rec.ExpiresAt = &exp
	}
	return rec
}

func (r *credentialRecord) credential() *portal.Credential {
	c := &portal.Credential{
		Identity: portal.Identity{
			UID:         r.UID,
			Email:       r.Email,
			DisplayName: r.DisplayName,
		},
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		IDToken:      r.IDToken,
		TokenType:    r.TokenType,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ExpiresAt != nil {
		c.ExpiresAt = *r.ExpiresAt
	}
	return c
}

// SQLiteOption customizes a SQLite store.
type SQLiteOption func(*SQLite)

// WithKey stores the credential under key, so several accounts can share
// one database.
func WithKey(key string) SQLiteOption {
	return func(s *SQLite) {
		if key != "" {
			s.key = key
		}
	}
}

// WithClock sets the clock used for UpdatedAt.
func WithClock(clock func() time.Time) SQLiteOption {
	return func(s *SQLite) {
		if clock != nil {
			s.now = clock
		}
	}
}

// SQLite stores the credential in a SQLite database through a bun
// repository.
type SQLite struct {
	db   *bun.DB
	repo repository.Repository[*credentialRecord]
	key  string
	now  func() time.Time
}

var _ portal.CredentialStore = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at dsn. Use
// "file::memory:?cache=shared" for an in-memory database.
func OpenSQLite(ctx context.Context, dsn string, opts ...SQLiteOption) (*SQLite, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open credential store")
	}
	return NewSQLite(ctx, bun.NewDB(sqldb, sqlitedialect.New()), opts...)
}

// NewSQLite wraps an open database and creates the table.
func NewSQLite(ctx context.Context, db *bun.DB, opts ...SQLiteOption) (*SQLite, error) {
	s := &SQLite{
		db:   db,
		repo: newCredentialRepository(db),
		key:  DefaultKey,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if _, err := db.NewCreateTable().
		Model((*credentialRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create credential table")
	}

	return s, nil
}

func newCredentialRepository(db *bun.DB) repository.Repository[*credentialRecord] {
	return repository.NewRepository[*credentialRecord](db, repository.ModelHandlers[*credentialRecord]{
		NewRecord: func() *credentialRecord { return &credentialRecord{} },
		GetID: func(r *credentialRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *credentialRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})
}

// Load returns the stored credential, or ErrNoCredential.
func (s *SQLite) Load(ctx context.Context) (*portal.Credential, error) {
	rec, err := s.repo.GetByID(ctx, recordID(s.key).String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrNoCredential
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load credential").
			WithMetadata(map[string]any{"key": s.key})
	}
	return rec.credential(), nil
}

// Save replaces the stored credential.
func (s *SQLite) Save(ctx context.Context, credential portal.Credential) error {
	if credential.UpdatedAt.IsZero() {
		credential.UpdatedAt = s.now()
	}
	record := recordFrom(s.key, credential)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.saveTx(ctx, tx, record)
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save credential").
			WithMetadata(map[string]any{"key": s.key})
	}
	return nil
}

func (s *SQLite) saveTx(ctx context.Context, tx bun.IDB, record *credentialRecord) error {
	id := record.ID.String()

	_, err := s.repo.GetByIDTx(ctx, tx, id)
	if err == nil {
		_, err = s.repo.UpdateTx(ctx, tx, record, repository.UpdateByID(id))
		return err
	}

	if !repository.IsRecordNotFound(err) {
		return err
	}

	_, err = s.repo.CreateTx(ctx, tx, record)
	return err
}

// Clear removes the stored credential. Clearing an empty store is fine.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.repo.RawTx(ctx, s.db, clearCredentialSQL, recordID(s.key).String()); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear credential").
			WithMetadata(map[string]any{"key": s.key})
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
