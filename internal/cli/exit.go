package cli

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
	"github.com/spf13/cobra"
)

// Exit codes returned by the portal binary.
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitAuth        = 3
	ExitInterrupted = 130
)

// ExecuteContext runs the root command.
func ExecuteContext(ctx context.Context, opts ...Option) error {
	return Run(ctx, NewRootCmd(opts...))
}

// Run executes root and closes the App opened by the command that ran.
// cobra skips post run hooks when a command fails, so the App is released
// here as well.
func Run(ctx context.Context, root *cobra.Command) error {
	cmd, err := root.ExecuteContextC(ctx)
	if cmd != nil {
		if app, ok := appFrom(cmd); ok {
			app.Close()
		}
	}
	return err
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if goerrors.Is(err, context.Canceled) {
		return ExitInterrupted
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return ExitError
	}
	switch richErr.Category {
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ExitAuth
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return ExitUsage
	}
	return ExitError
}

// Message is the text printed for err, with field errors appended.
func Message(err error) string {
	msg := portal.UserMessage(err)

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil && len(richErr.ValidationErrors) > 0 {
		msg += " (" + richErr.ValidationErrors.Error() + ")"
	}
	return msg
}
