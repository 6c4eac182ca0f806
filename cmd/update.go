package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/daemon"
)

func updateCmd() *cobra.Command {
	var git bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Rebuild the bridge binary, optionally pulling latest source first",
		Run: func(cmd *cobra.Command, args []string) {
			runUpdate(git)
		},
	}
	cmd.Flags().BoolVar(&git, "git", true, "run 'git pull --ff-only' before rebuilding")

	return cmd
}

func runUpdate(git bool) {
	cfgPath := resolveConfigPath()
	cfg, err := bconfig.Load(cfgPath)
	if err != nil {
		slog.Error("update: failed to load config", "error", err)
		os.Exit(1)
	}

	daemon.RunUpdate(cfg, resolveStateDir(), git)
}
