package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/daemon"
)

func bridgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Start the chat bridge daemon",
		Long:  "Runs the capture poller, event hook server, and message router against the configured chat platform until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge()
		},
	}
}

// runBridge is the composition root: load config, construct the daemon,
// and run it until a signal arrives.
func runBridge() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := bconfig.Load(cfgPath)
	if err != nil {
		slog.Error("bridge: failed to load config", "error", err)
		os.Exit(1)
	}

	d, err := daemon.New(cfg, resolveStateDir())
	if err != nil {
		slog.Error("bridge: failed to construct daemon", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("bridge: graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	slog.Info("goclaw-bridge starting",
		"version", Version,
		"platform", chatPlatformLabel(cfg),
		"hook_addr", cfg.Hook.Host,
		"hook_port", cfg.Hook.Port,
	)

	return d.Run(ctx)
}

func chatPlatformLabel(cfg *bconfig.Config) string {
	switch {
	case cfg.Chat.Discord.Enabled:
		return "discord"
	case cfg.Chat.Slack.Enabled:
		return "slack"
	default:
		return "none"
	}
}
