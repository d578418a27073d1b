package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/afzalimdad9/treantai/treantai"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Registers (overwrites) the bot's slash commands, then exits",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		if cfg.StartupTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.StartupTimeout)
			defer cancel()
		}

		bot, err := treantai.New(cfg)
		if err != nil {
			log.Fatalf("error creating treantai: %s", err.Error())
		}

		created, err := bot.RegisterSlashCommands(ctx)
		if err != nil {
			log.Fatalf("error registering commands: %s", err.Error())
		}

		out := cmd.OutOrStdout()
		scope := "global"
		if cfg.Discord.GuildID != "" {
			scope = "guild " + cfg.Discord.GuildID
		}
		_, _ = fmt.Fprintf(
			out,
			"%s registered %d commands (%s)\n",
			color.GreenString("✓"),
			len(created),
			scope,
		)
		for _, c := range created {
			_, _ = fmt.Fprintf(out, "  /%s %s\n", c.Name, color.HiBlackString(c.ID))
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(registerCmd)
}
