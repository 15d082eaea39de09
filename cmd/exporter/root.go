package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/exporter/pkg/cli"
	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/security/secrets"
)

var (
	// Global flags
	cfgFile string
	output  string
)

var rootCmd = &cobra.Command{
	Use:   "exporter",
	Short: "Exporter - export job orchestration and progress streaming",
	Long: `Exporter turns detection records into downloadable documents, data files
and spreadsheets.

It accepts single and batch export requests over HTTP, runs them on a
bounded worker pool, stores the artifacts, and pushes progress to clients
over a WebSocket channel.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code matching the
// error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (built-in defaults when empty)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text, json, csv")
}

// loadConfig loads the configuration file with environment overrides and
// resolves secret references in credential fields. The returned manager
// must be closed by the caller.
func loadConfig(ctx context.Context) (*config.Config, *secrets.Manager, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	manager, err := resolveSecrets(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		_ = manager.Close()
		return nil, nil, err
	}
	config.SetConfig(cfg)
	return cfg, manager, nil
}

func resolveSecrets(ctx context.Context, cfg *config.Config) (*secrets.Manager, error) {
	manager, err := secrets.NewFromConfig(cfg.Secrets)
	if err != nil {
		return nil, cli.NewConfigError("secrets", err.Error())
	}
	if err := manager.ResolveConfig(ctx, cfg); err != nil {
		_ = manager.Close()
		return nil, cli.NewConfigError("secrets", err.Error())
	}
	return manager, nil
}

// printResult writes v in the format selected by --output.
func printResult(cmd *cobra.Command, v any) error {
	format, err := cli.ParseOutputFormat(output)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), v)
}
