package cli

import (
	"context"
	"os"
	"path/filepath"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/api"
	"github.com/goliatone/go-portal/client"
	"github.com/goliatone/go-portal/provider/oauth2"
	"github.com/goliatone/go-portal/store"
)

// Settings is what the root command resolves before building the App.
type Settings struct {
	Config  portal.Config
	Verbose bool
}

// App is the wired SDK used by commands.
type App struct {
	Session *portal.Provider
	API     *api.Service
	Logger  portal.Logger

	closers []func()
}

// Close releases everything the App opened.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// OnClose registers fn to run on Close.
func (a *App) OnClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// AppFactory builds the App for a command run.
type AppFactory func(ctx context.Context, settings Settings, logs portal.LoggerProvider) (*App, error)

// Wire connects an identity provider and a backend client into an App:
// the client takes its tokens from the session provider, and the session
// provider fetches profiles through the client.
func Wire(identities portal.IdentityProvider, apiURL string, logs portal.LoggerProvider, opts ...client.Option) *App {
	var session *portal.Provider

	opts = append([]client.Option{
		client.WithLogger(logs.GetLogger("portal.client")),
		client.WithTokenSource(client.TokenSourceFunc(func(ctx context.Context, force bool) (string, error) {
			return session.Token(ctx, force)
		})),
	}, opts...)

	service := api.NewService(client.New(apiURL, opts...))
	session = portal.NewProvider(identities, service,
		portal.WithProviderLoggerProvider(logs),
		portal.WithProviderLogger(logs.GetLogger("portal.session")),
		portal.WithProviderActivitySink(portal.LoggerActivitySink(logs.GetLogger("portal.activity"))),
	)

	return &App{
		Session: session,
		API:     service,
		Logger:  logs.GetLogger("portal.cli"),
	}
}

// DefaultAppFactory wires the OAuth2 identity provider with a SQLite
// credential store.
func DefaultAppFactory(ctx context.Context, settings Settings, logs portal.LoggerProvider) (*App, error) {
	cfg := settings.Config
	if !cfg.IdentityConfigured() {
		return nil, goerrors.New("identity provider is not configured; set PORTAL_IDP_TOKEN_URL or PORTAL_IDP_AUTH0_DOMAIN", goerrors.CategoryValidation).
			WithTextCode(portal.TextCodeInvalidConfig)
	}

	statePath := cfg.StatePath
	if statePath == "" {
		statePath = defaultStatePath()
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o700); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create state directory")
	}

	credentials, err := store.OpenSQLite(ctx, "file:"+statePath+"?cache=shared")
	if err != nil {
		return nil, err
	}

	identities, err := oauth2.New(ctx, oauth2.ConfigFromPortal(cfg),
		oauth2.WithStore(credentials),
		oauth2.WithLogger(logs.GetLogger("portal.idp")),
	)
	if err != nil {
		credentials.Close()
		return nil, err
	}

	app := Wire(identities, cfg.APIURL, logs)
	app.OnClose(func() { credentials.Close() })
	app.OnClose(identities.Close)
	return app, nil
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "portal", "session.db")
}

// newLoggerProvider returns glog loggers when verbose and discards
// everything otherwise.
func newLoggerProvider(verbose bool) portal.LoggerProvider {
	if !verbose {
		return portal.LoggerProviderFunc(func(string) portal.Logger { return portal.NopLogger{} })
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("portal"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)

	return portal.LoggerProviderFunc(func(name string) portal.Logger {
		return lgr.GetLogger(name)
	})
}
