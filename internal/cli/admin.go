package cli

import (
	"fmt"

	"github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/api"
	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands (admins only)",
	}
	cmd.AddCommand(newAdminUsersCmd(), newAdminQuestionnairesCmd(), newAdminAnalyticsCmd())
	return cmd
}

// requireAdmin fails fast for non admins. The backend enforces it anyway.
func requireAdmin(cmd *cobra.Command) (*App, error) {
	app, err := requireSession(cmd)
	if err != nil {
		return nil, err
	}
	if !portal.IsAdmin(cmd.Context()) {
		return nil, portal.ErrAdminRequired
	}
	return app, nil
}

func listFlags(cmd *cobra.Command, withStatus bool) {
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("limit", 10, "items per page")
	if withStatus {
		cmd.Flags().String("status", "all", "filter by status (all, pending, reviewed, in_progress, completed)")
	} else {
		cmd.Flags().String("search", "", "filter by name or email")
	}
}

func listOptions(cmd *cobra.Command) api.ListOptions {
	var opts api.ListOptions
	opts.Page, _ = cmd.Flags().GetInt("page")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	if cmd.Flags().Lookup("search") != nil {
		opts.Search, _ = cmd.Flags().GetString("search")
	}
	if cmd.Flags().Lookup("status") != nil {
		status, _ := cmd.Flags().GetString("status")
		opts.Status = api.Status(status)
	}
	return opts
}

func newAdminUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireAdmin(cmd)
			if err != nil {
				return err
			}
			page, err := app.API.Users(cmd.Context(), listOptions(cmd))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), page)
		},
	}
	listFlags(cmd, false)

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user and their questionnaires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAdmin(cmd)
			if err != nil {
				return err
			}
			details, err := app.API.UserDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), details)
		},
	}

	role := &cobra.Command{
		Use:   "role <id>",
		Short: "Grant or revoke admin rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAdmin(cmd)
			if err != nil {
				return err
			}
			isAdmin, _ := cmd.Flags().GetBool("admin")
			profile, err := app.API.UpdateUserRole(cmd.Context(), args[0], isAdmin)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), profile)
		},
	}
	role.Flags().Bool("admin", false, "grant admin rights (use --admin=false to revoke)")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAdmin(cmd)
			if err != nil {
				return err
			}
			if err := app.API.DeleteUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "User deleted")
			return nil
		},
	}

	cmd.AddCommand(show, role, remove)
	return cmd
}

func newAdminQuestionnairesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questionnaires",
		Short: "List every questionnaire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireAdmin(cmd)
			if err != nil {
				return err
			}
			page, err := app.API.AllQuestionnaires(cmd.Context(), listOptions(cmd))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), page)
		},
	}
	listFlags(cmd, true)

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show any questionnaire",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAdmin(cmd)
			if err != nil {
				return err
			}
			item, err := app.API.AdminQuestionnaire(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}

	review := &cobra.Command{
		Use:   "review <id>",
		Short: "Set the status of a questionnaire and leave feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAdmin(cmd)
			if err != nil {
				return err
			}
			status, _ := cmd.Flags().GetString("status")
			feedback, _ := cmd.Flags().GetString("feedback")
			item, err := app.API.UpdateQuestionnaireStatus(cmd.Context(), args[0], api.StatusUpdate{
				Status:        api.Status(status),
				AdminFeedback: feedback,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}
	review.Flags().String("status", "", "new status (pending, reviewed, in_progress, completed)")
	review.Flags().String("feedback", "", "feedback shown to the submitter")
	_ = review.MarkFlagRequired("status")

	cmd.AddCommand(show, review)
	return cmd
}

func newAdminAnalyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Show the dashboard summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireAdmin(cmd)
			if err != nil {
				return err
			}
			summary, err := app.API.Analytics(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
}
