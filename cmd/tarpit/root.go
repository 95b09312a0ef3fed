package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antoniostano/tarpit/internal/config"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tarpit",
		Short: "Adaptive anti-scraping tarpit",
		Long: `tarpit serves endless, slowly streamed pages of Markov generated text
and fabricated links to clients that wander into /tarpit, and tracks how often
each client comes back.

Settings come from environment variables, optionally layered over a YAML file
given with --config or TARPIT_CONFIG_FILE.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewTrainCmd())
	cmd.AddCommand(NewGenerateCmd())
	cmd.AddCommand(NewRunsCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies --config before reading the environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("TARPIT_CONFIG_FILE", path); err != nil {
			return config.Config{}, fmt.Errorf("set config path: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}
