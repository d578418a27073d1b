package cmd

import (
	"log"

	"github.com/afzalimdad9/treantai/treantai"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot and (optionally) the status API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := treantai.New(cfg)
			if err != nil {
				log.Fatalf("error creating treantai: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running treantai: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
