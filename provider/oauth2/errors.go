package oauth2

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	xoauth2 "golang.org/x/oauth2"
)

// mapSignInError turns a token endpoint failure into a catalogue error.
func mapSignInError(err error) error {
	var rerr *xoauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return networkError(err)
	}

	meta := map[string]any{"error_code": rerr.ErrorCode}
	desc := strings.ToLower(rerr.ErrorDescription)

	switch {
	case rerr.Response != nil && rerr.Response.StatusCode == http.StatusTooManyRequests,
		rerr.ErrorCode == "too_many_attempts", rerr.ErrorCode == "too_many_requests":
		return portal.CloneError(portal.ErrTooManyRequests, err, meta)
	case rerr.ErrorCode == "unauthorized_client", rerr.ErrorCode == "unsupported_grant_type":
		return portal.CloneError(portal.ErrOperationNotAllowed, err, meta)
	case strings.Contains(desc, "blocked"), strings.Contains(desc, "disabled"):
		return portal.CloneError(portal.ErrUserDisabled, err, meta)
	case rerr.ErrorCode == "invalid_grant", rerr.ErrorCode == "access_denied", rerr.ErrorCode == "invalid_user_password":
		return portal.CloneError(portal.ErrInvalidCredentials, err, meta)
	case rerr.ErrorCode == "invalid_request" && strings.Contains(desc, "email"),
		rerr.ErrorCode == "invalid_email":
		return portal.CloneError(portal.ErrInvalidEmail, err, meta)
	case rerr.ErrorCode == "password_leaked", rerr.ErrorCode == "invalid_password":
		return portal.CloneError(portal.ErrWeakPassword, err, meta)
	default:
		return portal.CloneError(portal.ErrIdentityProvider, err, meta)
	}
}

// mapRefreshError reports a failed refresh. A rejected refresh token means
// the session is over.
func mapRefreshError(err error) error {
	var rerr *xoauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return networkError(err)
	}
	meta := map[string]any{"error_code": rerr.ErrorCode}
	if rerr.ErrorCode == "invalid_grant" || rerr.ErrorCode == "access_denied" {
		return portal.CloneError(portal.ErrSessionExpired, err, meta)
	}
	if rerr.Response != nil && rerr.Response.StatusCode == http.StatusTooManyRequests {
		return portal.CloneError(portal.ErrTooManyRequests, err, meta)
	}
	return portal.CloneError(portal.ErrIdentityProvider, err, meta)
}

func networkError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "Could not reach the authentication service").
		WithTextCode(portal.TextCodeIdentityProvider)
}
