package oauth2

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
)

// Config holds the identity service settings.
type Config struct {
	// ClientID is the application client ID.
	ClientID string

	// ClientSecret is optional for public clients.
	ClientSecret string

	// TokenURL is the OAuth2 token endpoint. Derived from Auth0Domain when
	// empty.
	TokenURL string

	// Auth0Domain is an Auth0 tenant domain (e.g., "example.us.auth0.com").
	// It fills in TokenURL, JWKSURL and Issuer.
	Auth0Domain string

	// Audience is sent with the password grant when set.
	Audience string

	// Scopes requested on sign in. offline_access is needed for refresh.
	Scopes []string

	// JWKSURL enables signature verification of identity tokens.
	JWKSURL string

	// Issuer overrides the expected issuer (optional).
	Issuer string

	// UseIDToken sends the id_token as the bearer credential instead of the
	// access token, for backends that verify identity tokens.
	UseIDToken bool

	// JWKSRefresh is how often signing keys are refetched.
	// Default: 1 hour.
	JWKSRefresh time.Duration

	// HTTPClient is used for token and JWKS requests (optional).
	HTTPClient *http.Client
}

// ConfigFromPortal maps the environment configuration.
func ConfigFromPortal(cfg portal.Config) Config {
	return Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Auth0Domain:  cfg.Auth0Domain,
		Audience:     cfg.Audience,
		Scopes:       cfg.Scopes,
		JWKSURL:      cfg.JWKSURL,
		UseIDToken:   true,
	}
}

// Validate checks that a token endpoint can be resolved.
func (c Config) Validate() error {
	tokenURL := c.tokenURL()
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.Errors{
			"client_id": validation.Validate(c.ClientID, validation.Required),
			"token_url": validation.Validate(tokenURL, validation.Required, is.URL),
			"jwks_url":  validation.Validate(c.jwksURL(), is.URL),
		}.Filter()
	}, "invalid identity provider configuration"); verr != nil {
		return verr.WithTextCode(portal.TextCodeInvalidConfig)
	}
	return nil
}

func (c Config) tokenURL() string {
	if c.TokenURL != "" {
		return strings.TrimSpace(c.TokenURL)
	}
	if base := c.issuerURL(); base != "" {
		return base + "oauth/token"
	}
	return ""
}

func (c Config) jwksURL() string {
	if c.JWKSURL != "" {
		return strings.TrimSpace(c.JWKSURL)
	}
	if strings.TrimSpace(c.Auth0Domain) == "" {
		return ""
	}
	return c.issuerURL() + ".well-known/jwks.json"
}

func (c Config) jwksRefresh() time.Duration {
	if c.JWKSRefresh > 0 {
		return c.JWKSRefresh
	}
	return time.Hour
}

func (c Config) issuerURL() string {
	if c.Issuer != "" {
		return normalizeIssuer(c.Issuer)
	}

	domain := strings.TrimSpace(c.Auth0Domain)
	if domain == "" {
		return ""
	}

	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return normalizeIssuer(domain)
	}

	return fmt.Sprintf("https://%s/", strings.TrimSuffix(domain, "/"))
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return issuer
	}
	if strings.HasSuffix(issuer, "/") {
		return issuer
	}
	return issuer + "/"
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
