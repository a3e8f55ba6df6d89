package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/deskrelay/internal/sandbox"
)

// Validate checks cfg for values that would fail at runtime. The API key is
// not checked here because it may still be prompted for.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Agent.Model) == "" {
		add("agent.model is required")
	}
	if c.Agent.DisplayWidth <= 0 || c.Agent.DisplayHeight <= 0 {
		add("agent.display_width and agent.display_height must be positive")
	}
	if c.Agent.RequestTimeout < 0 {
		add("agent.request_timeout must not be negative")
	}
	if c.Agent.MaxRetries < 0 {
		add("agent.max_retries must not be negative")
	}
	if c.Agent.RequestsPerMinute < 0 {
		add("agent.requests_per_minute must not be negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Environment.Backend)) {
	case sandbox.BackendDocker:
		if err := sandbox.ValidateContainerName(c.Environment.Container); err != nil {
			add("environment.container: %w", err)
		}
		if err := sandbox.ValidateProgram(c.Environment.DockerBinary); err != nil {
			add("environment.docker_binary: %w", err)
		}
	case sandbox.BackendLocal:
	default:
		add("environment.backend must be %q or %q", sandbox.BackendDocker, sandbox.BackendLocal)
	}
	if _, err := sandbox.NewHandle(c.Environment.Display, ""); err != nil {
		add("environment.display: %w", err)
	}
	if c.Environment.CommandTimeout < 0 {
		add("environment.command_timeout must not be negative")
	}
	if _, err := sandbox.ParseCommand(c.Environment.ScreenshotCommand); err != nil {
		add("environment.screenshot_command: %w", err)
	}

	if c.Loop.SettleDelay < 0 || c.Loop.WaitDuration < 0 {
		add("loop delays must not be negative")
	}
	if c.Loop.MaxIterations < 0 {
		add("loop.max_iterations must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		add("logging.format must be text or json")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not a known level", c.Logging.Level)
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		add("observability.sampling_rate must be between 0 and 1")
	}

	return errors.Join(errs...)
}
