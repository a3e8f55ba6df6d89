// Command deskrelay lets a remote computer-use agent operate a virtual
// desktop. It relays screenshots to the agent and executes the actions it
// returns through xdotool until the agent stops asking for actions.
//
// # Basic Usage
//
// Write a starter config, then start a session:
//
//	deskrelay init
//	deskrelay run --instruction "open example.com and find the contact page"
//
// # Environment Variables
//
//   - DESKRELAY_CONFIG: Path to the configuration file (default: ~/.deskrelay/config.yaml)
//   - OPENAI_API_KEY: API key for the Responses API (also read from .env)
//   - OPENAI_BASE_URL: Alternate API base URL
//   - DESKRELAY_CONTAINER: Docker container running the desktop
//   - DESKRELAY_DISPLAY: X display inside the container
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "deskrelay",
		Short: "Drive a virtual desktop with a computer-use agent",
		Long: `deskrelay runs a computer-use session: the agent sees screenshots of a
virtual X display and deskrelay performs the clicks, scrolls and keystrokes it
asks for, until the agent answers without requesting another action.`,
		Version:      versionString(),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (or set DESKRELAY_CONFIG)")

	rootCmd.AddCommand(
		buildRunCmd(&configPath),
		buildInitCmd(&configPath),
		buildVersionCmd(),
	)
	return rootCmd
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
