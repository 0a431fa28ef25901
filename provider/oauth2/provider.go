// Package oauth2 signs users in against a hosted identity service with the
// OAuth2 resource owner password grant and keeps their credential fresh with
// refresh tokens. Auth0 tenants are supported through Config.Auth0Domain.
package oauth2

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	xoauth2 "golang.org/x/oauth2"
)

// identityClaims are the OIDC claims read from identity tokens.
type identityClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// Option customizes the provider.
type Option func(*Provider)

// WithStore persists credentials so the session survives restarts.
func WithStore(store portal.CredentialStore) Option {
	return func(p *Provider) {
		p.store = store
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

// WithClock injects the clock used for expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithKeyfunc replaces the JWKS lookup, mostly for tests.
func WithKeyfunc(fn jwt.Keyfunc) Option {
	return func(p *Provider) {
		p.keyfunc = fn
	}
}

// Provider implements portal.IdentityProvider over OAuth2.
type Provider struct {
	portal.ChangeFeed

	cfg        Config
	oauth      *xoauth2.Config
	httpClient *http.Client
	store      portal.CredentialStore
	jwks       *keyfunc.JWKS
	keyfunc    jwt.Keyfunc
	logger     portal.Logger
	now        func() time.Time

	mu       sync.Mutex
	token    *xoauth2.Token
	identity *portal.Identity
}

var _ portal.IdentityProvider = (*Provider)(nil)

// New builds the provider. When a store is configured the stored credential
// is restored and published as the initial state.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		cfg: cfg,
		oauth: &xoauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: xoauth2.Endpoint{
				TokenURL:  cfg.tokenURL(),
				AuthStyle: xoauth2.AuthStyleInParams,
			},
		},
		httpClient: cfg.HTTPClient,
		logger:     portal.NopLogger{},
		now:        time.Now,
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.keyfunc == nil {
		if jwksURL := cfg.jwksURL(); jwksURL != "" {
			jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
				Client:            p.httpClient,
				Ctx:               ctx,
				RefreshInterval:   cfg.jwksRefresh(),
				RefreshRateLimit:  5 * time.Minute,
				RefreshTimeout:    10 * time.Second,
				RefreshUnknownKID: true,
				RefreshErrorHandler: func(err error) {
					p.logger.Warn("jwks refresh failed", "url", jwksURL, "error", err)
				},
			})
			if err != nil {
				return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to load identity provider signing keys").
					WithTextCode(portal.TextCodeIdentityProvider)
			}
			p.jwks = jwks
			p.keyfunc = jwks.Keyfunc
		}
	}

	p.restore(ctx)
	return p, nil
}

// Close stops background key refreshes.
func (p *Provider) Close() {
	if p.jwks != nil {
		p.jwks.EndBackground()
	}
}

func (p *Provider) restore(ctx context.Context) {
	if p.store == nil {
		return
	}

	cred, err := p.store.Load(ctx)
	if err != nil {
		if !goerrors.IsNotFound(err) {
			p.logger.Warn("failed to restore credential", "error", err)
		}
		return
	}

	identity := cred.Identity
	token := (&xoauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.ExpiresAt,
	}).WithExtra(map[string]any{"id_token": cred.IDToken})

	p.mu.Lock()
	p.token = token
	p.identity = &identity
	bearer := p.bearerLocked()
	p.mu.Unlock()

	p.logger.Debug("credential restored", "uid", identity.UID)
	p.Publish(portal.IdentityChange{Identity: &identity, Token: bearer})
}

// SignIn runs the password grant.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*portal.Identity, error) {
	// The password grant has no parameter hook, so the audience rides on
	// the token URL.
	conf := p.oauth
	if p.cfg.Audience != "" {
		copied := *p.oauth
		copied.Endpoint.TokenURL = withQuery(copied.Endpoint.TokenURL, "audience", p.cfg.Audience)
		conf = &copied
	}

	token, err := conf.PasswordCredentialsToken(p.clientContext(ctx), email, password)
	if err != nil {
		return nil, mapSignInError(err)
	}

	identity, err := p.identityFrom(token, email)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.token = token
	p.identity = identity
	bearer := p.bearerLocked()
	p.mu.Unlock()

	p.persist(ctx, identity, token)

	out := *identity
	p.Publish(portal.IdentityChange{Identity: &out, Token: bearer})
	return identity, nil
}

// SignOut forgets the credential locally. The identity service keeps no
// session for the password grant.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.token = nil
	p.identity = nil
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Clear(ctx); err != nil {
			p.logger.Warn("failed to clear stored credential", "error", err)
		}
	}

	p.Publish(portal.IdentityChange{})
	return nil
}

// Token returns the bearer credential, refreshing it when forced or
// expired.
func (p *Provider) Token(ctx context.Context, forceRefresh bool) (portal.Token, error) {
	p.mu.Lock()
	current := p.token
	identity := p.identity
	if current == nil || identity == nil {
		p.mu.Unlock()
		return portal.Token{}, portal.ErrNotAuthenticated
	}
	if !forceRefresh && !p.expiredLocked() {
		bearer := p.bearerLocked()
		p.mu.Unlock()
		return bearer, nil
	}
	p.mu.Unlock()

	if current.RefreshToken == "" {
		return portal.Token{}, portal.ErrSessionExpired
	}

	// An empty access token makes the source go to the token endpoint.
	stale := &xoauth2.Token{RefreshToken: current.RefreshToken}
	refreshed, err := p.oauth.TokenSource(p.clientContext(ctx), stale).Token()
	if err != nil {
		return portal.Token{}, mapRefreshError(err)
	}

	p.mu.Lock()
	if p.identity == nil || p.identity.UID != identity.UID {
		p.mu.Unlock()
		return portal.Token{}, portal.ErrSessionExpired
	}
	p.token = refreshed
	bearer := p.bearerLocked()
	p.mu.Unlock()

	p.persist(ctx, identity, refreshed)
	return bearer, nil
}

// bearerLocked returns the credential sent to the backend. p.mu must be held.
func (p *Provider) bearerLocked() portal.Token {
	value := p.token.AccessToken
	if p.cfg.UseIDToken {
		if id := idToken(p.token); id != "" {
			value = id
		}
	}
	token := portal.NewToken(value)
	if token.ExpiresAt.IsZero() && !p.token.Expiry.IsZero() {
		token.ExpiresAt = p.token.Expiry
	}
	return token
}

func (p *Provider) expiredLocked() bool {
	return p.bearerLocked().Expired(p.now(), 0)
}

func (p *Provider) identityFrom(token *xoauth2.Token, email string) (*portal.Identity, error) {
	raw := idToken(token)
	if raw == "" {
		raw = token.AccessToken
	}

	claims := &identityClaims{}
	if p.keyfunc != nil {
		parserOpts := []jwt.ParserOption{jwt.WithTimeFunc(p.now)}
		if iss := p.cfg.issuerURL(); iss != "" {
			parserOpts = append(parserOpts, jwt.WithIssuer(iss))
		}
		if _, err := jwt.ParseWithClaims(raw, claims, p.keyfunc, parserOpts...); err != nil {
			return nil, portal.CloneError(portal.ErrIdentityProvider, err, map[string]any{"reason": "identity token rejected"})
		}
	} else if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, portal.CloneError(portal.ErrIdentityProvider, err, map[string]any{"reason": "identity token unreadable"})
	}

	if claims.Subject == "" {
		return nil, portal.CloneError(portal.ErrIdentityProvider, nil, map[string]any{"reason": "identity token has no subject"})
	}

	identity := &portal.Identity{
		UID:           claims.Subject,
		Email:         claims.Email,
		DisplayName:   claims.Name,
		EmailVerified: claims.EmailVerified,
	}
	if identity.Email == "" {
		identity.Email = strings.TrimSpace(email)
	}
	if identity.DisplayName == "" || identity.DisplayName == identity.Email {
		identity.DisplayName = claims.Nickname
	}
	return identity, nil
}

func (p *Provider) persist(ctx context.Context, identity *portal.Identity, token *xoauth2.Token) {
	if p.store == nil {
		return
	}
	err := p.store.Save(ctx, portal.Credential{
		Identity:     *identity,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      idToken(token),
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
		UpdatedAt:    p.now(),
	})
	if err != nil {
		p.logger.Warn("failed to persist credential", "uid", identity.UID, "error", err)
	}
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, xoauth2.HTTPClient, p.httpClient)
}

func idToken(token *xoauth2.Token) string {
	if token == nil {
		return ""
	}
	if raw, ok := token.Extra("id_token").(string); ok {
		return raw
	}
	return ""
}
