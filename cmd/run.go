package cmd

import (
	"log"

	"github.com/eksodiastudio-coder/HelperAssistant/assistant"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot, and (optionally) the keep-alive server",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			if err := cfg.Validate(); err != nil {
				log.Fatalf("error: %s", err.Error())
			}
			bot, err := assistant.New(ctx, cfg)
			if err != nil {
				log.Fatalf("error creating assistant: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running assistant: %s", err.Error())
			}
		},
	}
)

//nolint:gochecknoinits // cobra wiring
func init() {
	rootCmd.AddCommand(runCmd)
}
