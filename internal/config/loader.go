package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".deskrelay"
	defaultConfigName = "config.yaml"

	// EnvConfigPath names the environment variable holding the config path.
	EnvConfigPath = "DESKRELAY_CONFIG"
)

// ErrNotFound is returned by Load when the file does not exist.
var ErrNotFound = errors.New("config file not found")

// DefaultPath returns ~/.deskrelay/config.yaml, or a relative config.yaml
// when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return defaultConfigName
	}
	return filepath.Join(home, defaultConfigDir, defaultConfigName)
}

// ResolvePath picks the config path from an explicit value, then
// DESKRELAY_CONFIG, then the default path. The boolean reports whether the
// path was chosen deliberately or exists on disk.
func ResolvePath(explicit string) (string, bool) {
	if strings.TrimSpace(explicit) != "" {
		return ExpandUserPath(explicit), true
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return ExpandUserPath(env), true
	}
	defaultPath := DefaultPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath, true
	}
	return defaultPath, false
}

// ExpandUserPath expands a leading "~/".
func ExpandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return path
}

// Load reads path on top of Default. ${VAR} references are expanded from
// the environment before decoding and unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if strings.TrimSpace(expanded) == "" {
		return cfg, nil
	}

	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return Config{}, fmt.Errorf("parse config: expected single document")
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return Config{}, err
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	return cfg, nil
}

// Environment variables that override file values when set.
const (
	EnvAPIKey    = "OPENAI_API_KEY"
	EnvBaseURL   = "OPENAI_BASE_URL"
	EnvContainer = "DESKRELAY_CONTAINER"
	EnvDisplay   = "DESKRELAY_DISPLAY"
)

// ApplyEnv overrides cfg from the process environment. The API key from the
// environment only fills an empty key.
func ApplyEnv(cfg Config) Config {
	return applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg Config, getenv func(string) string) Config {
	if v := strings.TrimSpace(getenv(EnvAPIKey)); v != "" && strings.TrimSpace(cfg.Agent.APIKey) == "" {
		cfg.Agent.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvBaseURL)); v != "" {
		cfg.Agent.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvContainer)); v != "" {
		cfg.Environment.Container = v
	}
	if v := strings.TrimSpace(getenv(EnvDisplay)); v != "" {
		cfg.Environment.Display = v
	}
	return cfg
}

// Write encodes cfg to path with owner-only permissions, creating parent
// directories. The API key is never written.
func Write(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is required")
	}
	path = ExpandUserPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	cfg.Agent.APIKey = ""
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
