// Package config loads deskrelay's YAML configuration.
package config

import (
	"time"

	"github.com/haasonsaas/deskrelay/internal/display"
	"github.com/haasonsaas/deskrelay/internal/responses"
	"github.com/haasonsaas/deskrelay/internal/sandbox"
)

// Config is the root configuration.
type Config struct {
	Version       int                 `yaml:"version"`
	Agent         AgentConfig         `yaml:"agent"`
	Environment   EnvironmentConfig   `yaml:"environment"`
	Loop          LoopConfig          `yaml:"loop"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AgentConfig configures the remote computer-use agent.
type AgentConfig struct {
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	Organization string `yaml:"organization"`

	DisplayWidth  int    `yaml:"display_width"`
	DisplayHeight int    `yaml:"display_height"`
	Environment   string `yaml:"environment"`
	Truncation    string `yaml:"truncation"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`

	AcknowledgeSafetyChecks bool `yaml:"acknowledge_safety_checks"`
}

// EnvironmentConfig addresses the desktop actions run against.
type EnvironmentConfig struct {
	// Backend is "docker" or "local".
	Backend   string `yaml:"backend"`
	Container string `yaml:"container"`
	Display   string `yaml:"display"`

	DockerBinary      string        `yaml:"docker_binary"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	ScreenshotCommand string        `yaml:"screenshot_command"`
}

// LoopConfig tunes the action loop.
type LoopConfig struct {
	SettleDelay      time.Duration `yaml:"settle_delay"`
	WaitDuration     time.Duration `yaml:"wait_duration"`
	MaxIterations    int           `yaml:"max_iterations"`
	ScaleScreenshots bool          `yaml:"scale_screenshots"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures metrics and tracing. Empty addresses
// disable the corresponding feature.
type ObservabilityConfig struct {
	MetricsAddr  string  `yaml:"metrics_addr"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	OTLPInsecure bool    `yaml:"otlp_insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	agent := responses.DefaultConfig()
	return Config{
		Version: CurrentVersion,
		Agent: AgentConfig{
			Model:          agent.Model,
			DisplayWidth:   agent.Tool.DisplayWidth,
			DisplayHeight:  agent.Tool.DisplayHeight,
			Environment:    agent.Tool.Environment,
			Truncation:     agent.Truncation,
			RequestTimeout: agent.RequestTimeout,
			MaxRetries:     agent.MaxRetries,
		},
		Environment: EnvironmentConfig{
			Backend:           sandbox.BackendDocker,
			Container:         "cua-image",
			Display:           ":99",
			DockerBinary:      "docker",
			CommandTimeout:    30 * time.Second,
			ScreenshotCommand: display.DefaultScreenshotCommand,
		},
		Loop: LoopConfig{
			SettleDelay:  time.Second,
			WaitDuration: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			SamplingRate: 1.0,
		},
	}
}

// ResponsesConfig converts the agent section to a client configuration.
func (c Config) ResponsesConfig() responses.Config {
	cfg := responses.DefaultConfig()
	cfg.Model = c.Agent.Model
	cfg.BaseURL = c.Agent.BaseURL
	cfg.APIKey = c.Agent.APIKey
	cfg.Organization = c.Agent.Organization
	cfg.Tool = responses.ToolSpec{
		Type:          cfg.Tool.Type,
		DisplayWidth:  c.Agent.DisplayWidth,
		DisplayHeight: c.Agent.DisplayHeight,
		Environment:   c.Agent.Environment,
	}
	cfg.Truncation = c.Agent.Truncation
	cfg.RequestTimeout = c.Agent.RequestTimeout
	cfg.MaxRetries = c.Agent.MaxRetries
	cfg.RequestsPerMinute = c.Agent.RequestsPerMinute
	return cfg
}
