package portal

import (
	"fmt"
	"time"
)

// Profile is the application side of a user, held by the backend.
type Profile struct {
	ID             string     `json:"_id,omitempty"`
	Email          string     `json:"email,omitempty"`
	DisplayName    string     `json:"displayName,omitempty"`
	IsAdmin        bool       `json:"isAdmin"`
	ProfilePicture string     `json:"profilePicture,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
}

// Session is the signed in user: provider identity, bearer token and
// application profile. Sessions are never mutated once published; updates
// build a new value.
type Session struct {
	Identity      Identity
	Token         Token
	Profile       Profile
	EstablishedAt time.Time
}

// newSession merges the provider identity with the backend profile. Backend
// fields win for authorization flags and the display name.
func newSession(identity Identity, token Token, profile Profile, now time.Time) *Session {
	merged := profile
	if merged.DisplayName == "" {
		merged.DisplayName = identity.DisplayName
	}
	if merged.Email == "" {
		merged.Email = identity.Email
	}

	return &Session{
		Identity:      identity,
		Token:         token,
		Profile:       merged,
		EstablishedAt: now,
	}
}

// UID returns the identity provider user id.
func (s *Session) UID() string {
	if s == nil {
		return ""
	}
	return s.Identity.UID
}

// Email returns the user's email.
func (s *Session) Email() string {
	if s == nil {
		return ""
	}
	if s.Identity.Email != "" {
		return s.Identity.Email
	}
	return s.Profile.Email
}

// DisplayName returns the merged display name.
func (s *Session) DisplayName() string {
	if s == nil {
		return ""
	}
	return s.Profile.DisplayName
}

// IsAdmin reports the backend authorization flag.
func (s *Session) IsAdmin() bool {
	if s == nil {
		return false
	}
	return s.Profile.IsAdmin
}

func (s *Session) withToken(token Token) *Session {
	next := *s
	next.Token = token
	return &next
}

func (s Session) String() string {
	expires := "<none>"
	if !s.Token.ExpiresAt.IsZero() {
		expires = s.Token.ExpiresAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"uid=%s email=%s name=%s admin=%t token_exp=%s",
		s.Identity.UID,
		s.Email(),
		s.Profile.DisplayName,
		s.Profile.IsAdmin,
		expires,
	)
}
