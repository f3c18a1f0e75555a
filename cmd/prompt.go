package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/eksodiastudio-coder/HelperAssistant/assistant"
	"github.com/spf13/cobra"
)

var promptHistory []string

var promptCmd = &cobra.Command{
	Use:   "prompt <question>",
	Short: "Print the prompt that would be sent to the model for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		knowledge := assistant.NewKnowledgeStore(cfg.Knowledge.File, slog.Default())
		if !knowledge.Load(ctx) {
			return fmt.Errorf("%w: %s", errKnowledgeNotLoaded, knowledge.Path())
		}

		question := strings.Join(args, " ")
		history := promptHistory
		if len(history) == 0 {
			history = []string{question}
		}
		builder := assistant.NewPromptBuilder(cfg.Prompt)
		_, err := fmt.Fprintln(
			cmd.OutOrStdout(),
			builder.Build(knowledge.Text(), history, question),
		)
		return err
	},
}

//nolint:gochecknoinits // cobra wiring
func init() {
	promptCmd.Flags().StringArrayVar(
		&promptHistory,
		"history",
		nil,
		"History line, as 'username: content' (repeatable, oldest first)",
	)
	rootCmd.AddCommand(promptCmd)
}
