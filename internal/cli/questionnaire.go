package cli

import (
	"os"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal/api"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newQuestionnaireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "questionnaire",
		Aliases: []string{"q"},
		Short:   "Submit and manage your project questionnaires",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your questionnaires",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			items, err := app.API.MyQuestionnaires(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), items)
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one of your questionnaires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			item, err := app.API.Questionnaire(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}

	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a questionnaire from a YAML or JSON file",
		Long: `Submit a questionnaire read from --file.

The file holds the questionnaire fields (projectName, projectType,
businessDescription, targetAudience, keyFeatures, budget, timeline,
technicalRequirements, additionalNotes) as YAML or JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			input, err := readQuestionnaire(cmd)
			if err != nil {
				return err
			}
			item, err := app.API.SubmitQuestionnaire(cmd.Context(), input)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}
	submit.Flags().StringP("file", "f", "", "questionnaire file")
	_ = submit.MarkFlagRequired("file")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a pending questionnaire with the contents of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			input, err := readQuestionnaire(cmd)
			if err != nil {
				return err
			}
			item, err := app.API.UpdateQuestionnaire(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}
	update.Flags().StringP("file", "f", "", "questionnaire file")
	_ = update.MarkFlagRequired("file")

	remove := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete one of your questionnaires",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireSession(cmd)
			if err != nil {
				return err
			}
			if err := app.API.DeleteQuestionnaire(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Println("Questionnaire deleted")
			return nil
		},
	}

	cmd.AddCommand(list, show, submit, update, remove)
	return cmd
}

func readQuestionnaire(cmd *cobra.Command) (api.QuestionnaireInput, error) {
	path, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return api.QuestionnaireInput{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read questionnaire file").
			WithMetadata(map[string]any{"path": path})
	}

	// JSON documents are valid YAML.
	var input api.QuestionnaireInput
	if err := yaml.Unmarshal(data, &input); err != nil {
		return api.QuestionnaireInput{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse questionnaire file").
			WithMetadata(map[string]any{"path": path})
	}
	return input, nil
}
