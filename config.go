package portal

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultRefreshSkew is how long before expiry a token is treated as expired.
const DefaultRefreshSkew = 30 * time.Second

// Config is the runtime configuration read from the environment.
type Config struct {
	APIURL string `env:"PORTAL_API_URL"`

	TokenURL     string   `env:"PORTAL_IDP_TOKEN_URL"`
	Auth0Domain  string   `env:"PORTAL_IDP_AUTH0_DOMAIN"`
	ClientID     string   `env:"PORTAL_IDP_CLIENT_ID"`
	ClientSecret string   `env:"PORTAL_IDP_CLIENT_SECRET"`
	Audience     string   `env:"PORTAL_IDP_AUDIENCE"`
	Scopes       []string `env:"PORTAL_IDP_SCOPES" envSeparator:"," envDefault:"openid,profile,email,offline_access"`
	JWKSURL      string   `env:"PORTAL_IDP_JWKS_URL"`

	StatePath   string        `env:"PORTAL_STATE_PATH"`
	RefreshSkew time.Duration `env:"PORTAL_REFRESH_SKEW" envDefault:"30s"`
}

// LoadConfig parses the environment and validates the result.
func LoadConfig() (Config, error) {
	cfg, err := ParseConfig()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseConfig reads the environment without validating, so callers can
// apply overrides first.
func ParseConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse environment").
			WithTextCode(TextCodeInvalidConfig)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	return cfg, nil
}

// Validate checks the fields that have to be set for the SDK to work.
func (c Config) Validate() error {
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&c,
			validation.Field(&c.APIURL, validation.Required, is.URL),
			validation.Field(&c.TokenURL, is.URL),
			validation.Field(&c.JWKSURL, is.URL),
			validation.Field(&c.RefreshSkew, validation.Min(time.Duration(0))),
		)
	}, "invalid portal configuration"); verr != nil {
		return verr.WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}

// IdentityConfigured reports whether an external identity provider is set.
func (c Config) IdentityConfigured() bool {
	return c.TokenURL != "" || c.Auth0Domain != ""
}
