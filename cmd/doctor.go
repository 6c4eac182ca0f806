package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/daemon"
)

func doctorCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check tmux, config, and state directory health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(fix)
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "attempt to repair what can be repaired automatically")

	return cmd
}

func runDoctor(fix bool) {
	fmt.Printf("goclaw-bridge doctor (%s)\n\n", Version)

	cfgPath := resolveConfigPath()
	cfg, err := bconfig.Load(cfgPath)
	if err != nil {
		slog.Error("doctor: failed to load config", "error", err)
		os.Exit(1)
	}

	daemon.RunDoctor(cfg, resolveStateDir(), fix)
}
