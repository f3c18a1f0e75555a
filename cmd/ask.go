package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eksodiastudio-coder/HelperAssistant/assistant"
	"github.com/spf13/cobra"
)

var errKnowledgeNotLoaded = errors.New("unable to load knowledge file")

// askCmd runs a single question through the model, without discord.
// Useful for checking a knowledge file before reloading the bot.
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the knowledge file, without connecting to discord",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Model.Validate(); err != nil {
			return err
		}

		bot, err := assistant.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("error creating assistant: %w", err)
		}
		if !bot.Knowledge().Load(ctx) {
			return fmt.Errorf("%w: %s", errKnowledgeNotLoaded, bot.Knowledge().Path())
		}

		answer, missed, err := bot.Ask(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if missed {
			_, err = fmt.Fprintf(out, "(no answer in knowledge base, model replied %s)\n", cfg.Prompt.Sentinel)
			return err
		}
		_, err = fmt.Fprintln(out, strings.TrimSpace(answer))
		return err
	},
}

//nolint:gochecknoinits // cobra wiring
func init() {
	rootCmd.AddCommand(askCmd)
}
