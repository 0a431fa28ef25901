package portal

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodePasswordTooShort   = "PASSWORD_TOO_SHORT"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeInvalidEmail       = "INVALID_EMAIL"
	TextCodeWeakPassword       = "WEAK_PASSWORD"
	TextCodeEmailInUse         = "EMAIL_IN_USE"
	TextCodeOperationDisabled  = "OPERATION_NOT_ALLOWED"
	TextCodeUserDisabled       = "USER_DISABLED"
	TextCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	TextCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	TextCodeSessionExpired     = "SESSION_EXPIRED"
	TextCodeProfileFetch       = "PROFILE_FETCH_FAILED"
	TextCodeRegistration       = "REGISTRATION_FAILED"
	TextCodeSignIn             = "SIGN_IN_FAILED"
	TextCodeSignOut            = "SIGN_OUT_FAILED"
	TextCodeSuperseded         = "SESSION_SUPERSEDED"
	TextCodeNotStarted         = "PROVIDER_NOT_STARTED"
	TextCodeIdentityProvider   = "IDENTITY_PROVIDER_ERROR"
	TextCodeInvalidConfig      = "INVALID_CONFIG"
	TextCodeAdminRequired      = "ADMIN_REQUIRED"
)

// MinPasswordLength is the shortest password accepted by SignUp.
const MinPasswordLength = 6

// ErrPasswordTooShort is returned by SignUp before anything is sent.
var ErrPasswordTooShort = goerrors.New("Password should be at least 6 characters long", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordTooShort).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is returned for a wrong email/password pair.
var ErrInvalidCredentials = goerrors.New("Invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidEmail is returned when the identity provider rejects the address.
var ErrInvalidEmail = goerrors.New("Invalid email address", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrWeakPassword is returned when the identity provider rejects the password.
var ErrWeakPassword = goerrors.New("Password should be at least 6 characters", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailInUse is returned when registering an address that already exists.
var ErrEmailInUse = goerrors.New("Email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailInUse).
	WithCode(goerrors.CodeConflict)

// ErrOperationNotAllowed is returned when email/password auth is disabled.
var ErrOperationNotAllowed = goerrors.New("Email/Password sign up is not enabled. Please contact support.", goerrors.CategoryAuth).
	WithTextCode(TextCodeOperationDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrUserDisabled is returned for accounts disabled at the identity provider.
var ErrUserDisabled = goerrors.New("This account has been disabled", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrTooManyRequests is returned when the identity provider throttles us.
var ErrTooManyRequests = goerrors.New("Too many attempts. Please try again later.", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyRequests)

// ErrNotAuthenticated is returned when an operation needs a signed in user.
var ErrNotAuthenticated = goerrors.New("You are not signed in", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionExpired is returned when the credential can no longer be refreshed.
var ErrSessionExpired = goerrors.New("Your session has expired. Please sign in again.", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileFetch is reported when the application profile could not be loaded.
var ErrProfileFetch = goerrors.New("Failed to load your profile", goerrors.CategoryAuth).
	WithTextCode(TextCodeProfileFetch).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionSuperseded is returned to a sign in whose result was overtaken by a
// newer identity change.
var ErrSessionSuperseded = goerrors.New("Session changed while signing in", goerrors.CategoryConflict).
	WithTextCode(TextCodeSuperseded).
	WithCode(goerrors.CodeConflict)

// ErrNotStarted is returned by operations that need Provider.Start first.
var ErrNotStarted = goerrors.New("session provider not started", goerrors.CategoryInternal).
	WithTextCode(TextCodeNotStarted).
	WithCode(goerrors.CodeInternal)

// ErrIdentityProvider wraps unexpected identity provider failures.
var ErrIdentityProvider = goerrors.New("Authentication service error. Please try again.", goerrors.CategoryAuth).
	WithTextCode(TextCodeIdentityProvider).
	WithCode(goerrors.CodeUnauthorized)

// ErrAdminRequired is returned when a non admin reaches for admin features.
var ErrAdminRequired = goerrors.New("Admin access required", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAdminRequired).
	WithCode(goerrors.CodeForbidden)

const genericMessage = "Something went wrong. Please try again."

// UserMessage returns the text a caller shows the user as a transient
// notification.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		if msg := strings.TrimSpace(richErr.Message); msg != "" {
			return msg
		}
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return genericMessage
}

// HasTextCode reports whether err is a rich error with the given text code.
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode == code
	}
	return false
}

// SessionRejected reports whether err means the identity provider refused
// the credential for good. Cancellation, network failures and throttling
// are not rejections.
func SessionRejected(err error) bool {
	for _, code := range []string{TextCodeSessionExpired, TextCodeUserDisabled, TextCodeNotAuthenticated} {
		if HasTextCode(err, code) {
			return true
		}
	}
	return false
}

// withSource clones a catalogue error, attaching the cause and metadata.
func withSource(base *goerrors.Error, source error, metadata map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if source != nil {
		clone.Source = source
	}
	if len(metadata) > 0 {
		clone.WithMetadata(metadata)
	}
	return clone
}

// WrapIdentityError keeps catalogue errors as they are and wraps anything
// else in ErrIdentityProvider. Identity providers use it on their way out.
func WrapIdentityError(err error, metadata map[string]any) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr
	}
	return withSource(ErrIdentityProvider, err, metadata)
}

// CloneError returns a copy of a catalogue error carrying source and
// metadata, leaving the package level value untouched.
func CloneError(base *goerrors.Error, source error, metadata map[string]any) error {
	return withSource(base, source, metadata)
}
