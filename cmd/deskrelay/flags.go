package main

import (
	"github.com/spf13/cobra"

	"github.com/haasonsaas/deskrelay/internal/config"
)

func bindConfigFlags(cmd *cobra.Command, flags *config.Config) {
	defaults := config.Default()
	f := cmd.Flags()
	f.StringVar(&flags.Agent.Model, "model", defaults.Agent.Model, "Computer-use model")
	f.StringVar(&flags.Agent.BaseURL, "base-url", "", "Responses API base URL")
	f.IntVar(&flags.Agent.DisplayWidth, "display-width", defaults.Agent.DisplayWidth, "Logical display width declared to the agent")
	f.IntVar(&flags.Agent.DisplayHeight, "display-height", defaults.Agent.DisplayHeight, "Logical display height declared to the agent")
	f.StringVar(&flags.Agent.Environment, "agent-environment", defaults.Agent.Environment, "Environment kind declared to the agent (browser, linux, ...)")
	f.BoolVar(&flags.Agent.AcknowledgeSafetyChecks, "acknowledge-safety-checks", false, "Acknowledge pending safety checks automatically")
	f.StringVar(&flags.Environment.Backend, "backend", defaults.Environment.Backend, "Command backend: docker or local")
	f.StringVar(&flags.Environment.Container, "container", defaults.Environment.Container, "Docker container running the desktop")
	f.StringVar(&flags.Environment.Display, "display", defaults.Environment.Display, "X display to drive")
	f.DurationVar(&flags.Environment.CommandTimeout, "command-timeout", defaults.Environment.CommandTimeout, "Timeout for each desktop command (0 disables)")
	f.IntVar(&flags.Loop.MaxIterations, "max-iterations", 0, "Stop after this many actions (0 = unlimited)")
	f.BoolVar(&flags.Loop.ScaleScreenshots, "scale-screenshots", false, "Scale screenshots to the declared display size")
	f.StringVar(&flags.Logging.Level, "log-level", defaults.Logging.Level, "Log level: debug, info, warn, error")
	f.StringVar(&flags.Logging.Format, "log-format", defaults.Logging.Format, "Log format: text or json")
	f.StringVar(&flags.Observability.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// applyFlagOverrides copies flag values onto base for flags the user set.
func applyFlagOverrides(cmd *cobra.Command, base config.Config, flags config.Config) config.Config {
	if flagChanged(cmd, "model") {
		base.Agent.Model = flags.Agent.Model
	}
	if flagChanged(cmd, "base-url") {
		base.Agent.BaseURL = flags.Agent.BaseURL
	}
	if flagChanged(cmd, "display-width") {
		base.Agent.DisplayWidth = flags.Agent.DisplayWidth
	}
	if flagChanged(cmd, "display-height") {
		base.Agent.DisplayHeight = flags.Agent.DisplayHeight
	}
	if flagChanged(cmd, "agent-environment") {
		base.Agent.Environment = flags.Agent.Environment
	}
	if flagChanged(cmd, "acknowledge-safety-checks") {
		base.Agent.AcknowledgeSafetyChecks = flags.Agent.AcknowledgeSafetyChecks
	}
	if flagChanged(cmd, "backend") {
		base.Environment.Backend = flags.Environment.Backend
	}
	if flagChanged(cmd, "container") {
		base.Environment.Container = flags.Environment.Container
	}
	if flagChanged(cmd, "display") {
		base.Environment.Display = flags.Environment.Display
	}
	if flagChanged(cmd, "command-timeout") {
		base.Environment.CommandTimeout = flags.Environment.CommandTimeout
	}
	if flagChanged(cmd, "max-iterations") {
		base.Loop.MaxIterations = flags.Loop.MaxIterations
	}
	if flagChanged(cmd, "scale-screenshots") {
		base.Loop.ScaleScreenshots = flags.Loop.ScaleScreenshots
	}
	if flagChanged(cmd, "log-level") {
		base.Logging.Level = flags.Logging.Level
	}
	if flagChanged(cmd, "log-format") {
		base.Logging.Format = flags.Logging.Format
	}
	if flagChanged(cmd, "metrics-addr") {
		base.Observability.MetricsAddr = flags.Observability.MetricsAddr
	}
	return base
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Changed
	}
	if f := cmd.InheritedFlags().Lookup(name); f != nil {
		return f.Changed
	}
	return false
}
