package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/goclaw-bridge/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile  string
	verbose  bool
	stateDir string
)

var rootCmd = &cobra.Command{
	Use:   "goclaw-bridge",
	Short: "goclaw-bridge — terminal agent to chat platform bridge",
	Long:  "goclaw-bridge connects terminal-hosted AI coding agents running in tmux to Discord or Slack: it captures pane output, routes chat commands into the right tmux window, and posts progress and final results back to the chat platform.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBridge()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $AGENT_DISCORD_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory for project/instance state (default: $AGENT_DISCORD_STATE_DIR or ./state)")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(bridgeCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(updateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("goclaw-bridge %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("AGENT_DISCORD_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

func resolveStateDir() string {
	if stateDir != "" {
		return stateDir
	}
	if v := os.Getenv("AGENT_DISCORD_STATE_DIR"); v != "" {
		return v
	}
	return "state"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
