package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/deskrelay/internal/config"
)

func buildRunCmd(configPath *string) *cobra.Command {
	var (
		flags       config.Config
		instruction string
		envFiles    []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a computer-use session",
		Long: `Start a computer-use session against the configured desktop.

The instruction is taken from --instruction or read from stdin. The API key
comes from the config file, OPENAI_API_KEY (a .env file is loaded first) or
an interactive prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(envFiles); err != nil {
				return err
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			cfg = config.ApplyEnv(cfg)
			cfg = applyFlagOverrides(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			return runSession(cmd, cfg, instruction)
		},
	}

	bindConfigFlags(cmd, &flags)
	cmd.Flags().StringVarP(&instruction, "instruction", "i", "", "Initial instruction for the agent (prompted when empty)")
	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "Dotenv files to load (default: .env)")
	return cmd
}

func buildInitCmd(configPath *string) *cobra.Command {
	var (
		flags config.Config
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := config.ResolvePath(*configPath)

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}

			cfg := applyFlagOverrides(cmd, config.Default(), flags)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := config.Write(path, cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote config to %s\n", path)
			return nil
		},
	}

	bindConfigFlags(cmd, &flags)
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deskrelay %s\n", versionString())
		},
	}
}

// loadConfig reads the resolved config file. A missing file is only an
// error when the path was given explicitly.
func loadConfig(explicit string) (config.Config, error) {
	path, chosen := config.ResolvePath(explicit)
	if !chosen {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) && explicit == "" && os.Getenv(config.EnvConfigPath) == "" {
			return config.Default(), nil
		}
		return config.Config{}, err
	}
	return cfg, nil
}
