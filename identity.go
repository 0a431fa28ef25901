package portal

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the user as known by the identity provider.
type Identity struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
}

// IdentityChange is emitted by an IdentityProvider whenever the signed in
// identity changes. A nil Identity means nobody is signed in.
type IdentityChange struct {
	Identity *Identity
	Token    Token
}

// SignedIn reports whether the change carries an identity.
func (c IdentityChange) SignedIn() bool {
	return c.Identity != nil
}

// Token is an opaque, short lived bearer credential.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// IsZero reports whether the token has no value.
func (t Token) IsZero() bool {
	return t.Value == ""
}

// Expired reports whether the token is expired at now, treating tokens that
// expire within skew as already expired. Tokens without expiry never expire.
func (t Token) Expired(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// NewToken wraps a raw credential and reads its expiry when the value is a
// JWT. Opaque values get no expiry.
func NewToken(raw string) Token {
	return Token{Value: raw, ExpiresAt: TokenExpiry(raw)}
}

// TokenExpiry returns the exp claim of a JWT without verifying its signature.
// The client only needs to know when to refresh; verification belongs to the
// backend.
func TokenExpiry(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}
	}

	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Credential is what identity providers persist so a session can be
// restored.
type Credential struct {
	Identity     Identity  `json:"identity"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	IDToken      string    `json:"idToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}
