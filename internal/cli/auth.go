package cli

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/api"
	"github.com/spf13/cobra"
)

const envPassword = "PORTAL_PASSWORD"

func newLoginCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in with email and password.

The password is read from --password or, when the flag is empty, from the
PORTAL_PASSWORD environment variable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := mustApp(cmd)

			email, _ := cmd.Flags().GetString("email")
			password := o.password(cmd)

			session, err := app.Session.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", session.DisplayName())
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := mustApp(cmd)

			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")

			session, err := app.Session.SignUp(cmd.Context(), email, o.password(cmd), name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account created. Signed in as %s\n", session.DisplayName())
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().String("name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (o *options) password(cmd *cobra.Command) string {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		password = o.lookup(envPassword)
	}
	return password
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := mustApp(cmd)
			if app.Session.Current() == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			if err := app.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := mustApp(cmd)
			session := app.Session.Current()
			if session == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), session.Profile)
		},
	}
}

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			profile, err := app.API.Profile(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), profile)
		},
	}

	update := &cobra.Command{
		Use:   "update",
		Short: "Change your display name or profile picture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			picture, _ := cmd.Flags().GetString("picture")

			profile, err := app.API.UpdateProfile(cmd.Context(), api.ProfileUpdate{
				DisplayName:    strings.TrimSpace(name),
				ProfilePicture: strings.TrimSpace(picture),
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), profile)
		},
	}
	update.Flags().String("name", "", "new display name")
	update.Flags().String("picture", "", "profile picture URL")

	cmd.AddCommand(update)
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "config",
		Short:       "Print the resolved configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := resolveSettings(cmd)
			if err != nil {
				return err
			}
			cfg := settings.Config
			if cfg.ClientSecret != "" {
				cfg.ClientSecret = "********"
			}
			if cfg.StatePath == "" {
				cfg.StatePath = defaultStatePath()
			}
			return writeJSON(cmd.OutOrStdout(), displayConfig(cfg))
		},
	}
}

func displayConfig(cfg portal.Config) map[string]any {
	return map[string]any{
		"api_url":       cfg.APIURL,
		"token_url":     cfg.TokenURL,
		"auth0_domain":  cfg.Auth0Domain,
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
		"audience":      cfg.Audience,
		"scopes":        cfg.Scopes,
		"jwks_url":      cfg.JWKSURL,
		"state_path":    cfg.StatePath,
		"refresh_skew":  cfg.RefreshSkew.String(),
	}
}
