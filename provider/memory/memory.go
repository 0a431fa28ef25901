// Package memory is an in-process identity provider. It keeps users in a
// map, hashes passwords with bcrypt and mints HS256 tokens. Tests and the
// fake backend use it in place of the hosted identity service.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultIssuer   = "go-portal-memory"
	defaultTokenTTL = time.Hour
)

// Claims are the claims carried by tokens minted here.
type Claims struct {
	jwt.RegisteredClaims
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	Generation int    `json:"gen"`
}

type user struct {
	identity   portal.Identity
	hash       string
	disabled   bool
	generation int
}

// Option customizes the provider.
type Option func(*Provider)

// WithSigningKey sets the HMAC key used to sign tokens.
func WithSigningKey(key []byte) Option {
	return func(p *Provider) {
		if len(key) > 0 {
			p.signingKey = key
		}
	}
}

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) Option {
	return func(p *Provider) {
		if issuer != "" {
			p.issuer = issuer
		}
	}
}

// WithTokenTTL sets how long minted tokens live.
func WithTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithClock injects the clock used to mint and verify tokens.
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithHashCost sets the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(p *Provider) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			p.cost = cost
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger portal.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Provider implements portal.IdentityProvider in memory. Only one identity
// is signed in at a time, like a browser identity SDK.
type Provider struct {
	portal.ChangeFeed

	mu         sync.Mutex
	byEmail    map[string]*user
	byUID      map[string]*user
	current    *user
	token      portal.Token
	refreshes  int
	refreshErr error

	signingKey []byte
	issuer     string
	ttl        time.Duration
	cost       int
	now        func() time.Time
	logger     portal.Logger
}

var _ portal.IdentityProvider = (*Provider)(nil)

// New returns an empty provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		byEmail:    map[string]*user{},
		byUID:      map[string]*user{},
		signingKey: []byte(uuid.NewString()),
		issuer:     defaultIssuer,
		ttl:        defaultTokenTTL,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
		logger:     portal.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// CreateUser registers an account. Passwords shorter than
// portal.MinPasswordLength are rejected as weak.
func (p *Provider) CreateUser(_ context.Context, email, password, displayName string) (portal.Identity, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return portal.Identity{}, portal.CloneError(portal.ErrInvalidEmail, nil, map[string]any{"email": email})
	}
	if len(password) < portal.MinPasswordLength {
		return portal.Identity{}, portal.ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return portal.Identity{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byEmail[email]; exists {
		return portal.Identity{}, portal.CloneError(portal.ErrEmailInUse, nil, map[string]any{"email": email})
	}

	u := &user{
		identity: portal.Identity{
			UID:         uuid.NewString(),
			Email:       email,
			DisplayName: strings.TrimSpace(displayName),
		},
		hash: string(hash),
	}
	p.byEmail[email] = u
	p.byUID[u.identity.UID] = u

	p.logger.Debug("memory provider user created", "uid", u.identity.UID, "email", email)
	return u.identity, nil
}

// SignIn checks the password and signs the user in.
func (p *Provider) SignIn(_ context.Context, email, password string) (*portal.Identity, error) {
	email = normalizeEmail(email)

	p.mu.Lock()
	u, ok := p.byEmail[email]
	p.mu.Unlock()

	if !ok {
		return nil, portal.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.hash), []byte(password)); err != nil {
		return nil, portal.ErrInvalidCredentials
	}

	p.mu.Lock()
	if u.disabled {
		p.mu.Unlock()
		return nil, portal.ErrUserDisabled
	}
	token, err := p.mintLocked(u)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.current = u
	p.token = token
	identity := u.identity
	p.mu.Unlock()

	p.Publish(portal.IdentityChange{Identity: &identity, Token: token})
	return &identity, nil
}

// SignOut forgets the signed in user.
func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.token = portal.Token{}
	p.mu.Unlock()

	p.Publish(portal.IdentityChange{})
	return nil
}

// Token returns the current token, minting a new one when forced or when
// the current one has expired.
func (p *Provider) Token(_ context.Context, forceRefresh bool) (portal.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return portal.Token{}, portal.ErrNotAuthenticated
	}
	if !forceRefresh && !p.token.Expired(p.now(), 0) {
		return p.token, nil
	}

	if p.refreshErr != nil {
		return portal.Token{}, p.refreshErr
	}
	if p.current.disabled {
		return portal.Token{}, portal.ErrUserDisabled
	}

	token, err := p.mintLocked(p.current)
	if err != nil {
		return portal.Token{}, err
	}
	p.token = token
	p.refreshes++
	return token, nil
}

// Verify validates a token minted by this provider and returns its
// identity. Tokens of disabled users and revoked tokens are rejected.
func (p *Provider) Verify(raw string) (*portal.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.signingKey, nil
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, portal.CloneError(portal.ErrSessionExpired, err, nil)
		}
		return nil, portal.CloneError(portal.ErrNotAuthenticated, err, nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.byUID[claims.Subject]
	if !ok {
		return nil, portal.ErrNotAuthenticated
	}
	if u.disabled {
		return nil, portal.ErrUserDisabled
	}
	if claims.Generation != u.generation {
		return nil, portal.CloneError(portal.ErrSessionExpired, nil, map[string]any{"reason": "revoked"})
	}

	identity := u.identity
	return &identity, nil
}

// RevokeTokens invalidates every token issued to uid so far. The signed in
// session keeps its token until it asks for a new one.
func (p *Provider) RevokeTokens(uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.byUID[uid]; ok {
		u.generation++
	}
}

// DisableUser blocks sign in and refresh for uid.
func (p *Provider) DisableUser(uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.byUID[uid]; ok {
		u.disabled = true
	}
}

// DeleteUser removes uid. A signed in session for uid is invalidated.
func (p *Provider) DeleteUser(uid string) {
	p.mu.Lock()
	u, ok := p.byUID[uid]
	if ok {
		delete(p.byUID, uid)
		delete(p.byEmail, u.identity.Email)
	}
	signedIn := ok && p.current == u
	p.mu.Unlock()

	if signedIn {
		p.Invalidate()
	}
}

// Invalidate ends the session from the provider side, as when the identity
// service revokes it.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.current = nil
	p.token = portal.Token{}
	p.mu.Unlock()

	p.Publish(portal.IdentityChange{})
}

// FailRefresh makes every following refresh fail with err. A nil err
// restores normal behavior.
func (p *Provider) FailRefresh(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshErr = err
}

// Refreshes returns how many tokens were minted by Token.
func (p *Provider) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// Lookup returns the identity registered for email.
func (p *Provider) Lookup(email string) (portal.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byEmail[normalizeEmail(email)]
	if !ok {
		return portal.Identity{}, false
	}
	return u.identity, true
}

func (p *Provider) mintLocked(u *user) (portal.Token, error) {
	now := p.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    p.issuer,
			Subject:   u.identity.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
		Email:      u.identity.Email,
		Name:       u.identity.DisplayName,
		Generation: u.generation,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return portal.Token{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return portal.Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
