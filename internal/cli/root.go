// Package cli implements the portal command line client.
package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

type appKey struct{}

// Option customizes the root command.
type Option func(*options)

type options struct {
	factory AppFactory
	logs    portal.LoggerProvider
	lookup  func(string) string
}

// WithAppFactory replaces how commands build the App.
func WithAppFactory(factory AppFactory) Option {
	return func(o *options) {
		if factory != nil {
			o.factory = factory
		}
	}
}

// WithLoggerProvider overrides the logger selected by --verbose.
func WithLoggerProvider(logs portal.LoggerProvider) Option {
	return func(o *options) {
		o.logs = logs
	}
}

// WithEnv replaces the environment lookup used for secrets such as
// PORTAL_PASSWORD.
func WithEnv(lookup func(string) string) Option {
	return func(o *options) {
		if lookup != nil {
			o.lookup = lookup
		}
	}
}

// NewRootCmd builds the portal command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	o := &options{
		factory: DefaultAppFactory,
		lookup:  os.Getenv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	root := &cobra.Command{
		Use:   "portal",
		Short: "Client for the project questionnaire portal",
		Long: `portal signs you in to the questionnaire portal and talks to its API.

Configuration is read from PORTAL_* environment variables. The session is
kept in a local SQLite file between runs (PORTAL_STATE_PATH).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			return o.open(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app, ok := appFrom(cmd); ok {
				app.Close()
			}
		},
	}

	root.PersistentFlags().Bool("verbose", false, "log SDK activity to stderr")
	root.PersistentFlags().String("api-url", "", "backend base URL (overrides PORTAL_API_URL)")
	root.PersistentFlags().String("state", "", "session database path (overrides PORTAL_STATE_PATH)")

	root.AddCommand(
		newLoginCmd(o),
		newRegisterCmd(o),
		newLogoutCmd(),
		newWhoamiCmd(),
		newProfileCmd(),
		newQuestionnaireCmd(),
		newNotificationsCmd(),
		newAdminCmd(),
		newConfigCmd(),
	)
	return root
}

// open builds the App, starts the session provider and waits until the
// restored session, if any, has been resolved.
func (o *options) open(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	settings, err := resolveSettings(cmd)
	if err != nil {
		return err
	}

	logs := o.logs
	if logs == nil {
		logs = newLoggerProvider(settings.Verbose)
	}

	app, err := o.factory(ctx, settings, logs)
	if err != nil {
		return err
	}

	if err := app.Session.Start(ctx); err != nil {
		app.Close()
		return err
	}
	app.OnClose(func() { app.Session.Close() })

	select {
	case <-app.Session.Ready():
	case <-ctx.Done():
		app.Close()
		return ctx.Err()
	}

	cmd.SetContext(context.WithValue(ctx, appKey{}, app))
	return nil
}

func resolveSettings(cmd *cobra.Command) (Settings, error) {
	cfg, err := portal.ParseConfig()
	if err != nil {
		return Settings{}, err
	}

	if apiURL, _ := cmd.Flags().GetString("api-url"); apiURL != "" {
		cfg.APIURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	}
	if state, _ := cmd.Flags().GetString("state"); state != "" {
		cfg.StatePath = state
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	return Settings{Config: cfg, Verbose: verbose}, nil
}

func appFrom(cmd *cobra.Command) (*App, bool) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, false
	}
	app, ok := ctx.Value(appKey{}).(*App)
	return app, ok
}

func mustApp(cmd *cobra.Command) *App {
	app, ok := appFrom(cmd)
	if !ok {
		panic("portal: command ran without an app")
	}
	return app
}

// requireSession fails for anonymous users and stores the session snapshot
// in the command context.
func requireSession(cmd *cobra.Command) (*App, error) {
	app := mustApp(cmd)
	session := app.Session.Current()
	if session == nil {
		return nil, portal.ErrNotAuthenticated
	}
	cmd.SetContext(portal.WithSession(cmd.Context(), session))
	return app, nil
}

func writeJSON(w io.Writer, v any) error {
	_, err := io.WriteString(w, print.MaybePrettyJSON(v)+"\n")
	return err
}
