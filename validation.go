package portal

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

// SignUpInput is the registration payload sent to the backend.
type SignUpInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// Normalize trims the free text fields.
func (in SignUpInput) Normalize() SignUpInput {
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	return in
}

// Validate checks the payload locally. The password length check comes
// first so a short password never leaves the process.
func (in SignUpInput) Validate() error {
	if len(in.Password) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&in,
			validation.Field(&in.Email, validation.Required, is.EmailFormat),
			validation.Field(&in.DisplayName, validation.Required, validation.Length(1, 80)),
		)
	}, "Invalid sign up details"); verr != nil {
		return verr
	}

	return nil
}

// SignInInput is the email/password pair used by SignIn.
type SignInInput struct {
	Email    string
	Password string
}

// Validate checks that both fields are present.
func (in SignInInput) Validate() error {
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&in,
			validation.Field(&in.Email, validation.Required, is.EmailFormat),
			validation.Field(&in.Password, validation.Required),
		)
	}, "Invalid email or password"); verr != nil {
		return verr
	}
	return nil
}
