package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newNotificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"n"},
		Short:   "Read your notifications",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			items, err := app.API.Notifications(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), items)
		},
	}

	read := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			item, err := app.API.MarkNotificationRead(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}

	readAll := &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			if err := app.API.MarkAllNotificationsRead(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All notifications marked as read")
			return nil
		},
	}

	unread := &cobra.Command{
		Use:   "unread",
		Short: "Print the number of unread notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			count, err := app.API.UnreadNotificationsCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}

	cmd.AddCommand(read, readAll, unread)
	return cmd
}
