package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/exporter/pkg/cli"
	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/server"
	"mercator-hq/exporter/pkg/telemetry"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the export service",
	Long: `Start the export service with the specified configuration.

The service listens on the configured address, runs export jobs on its
worker pool and streams progress over the WebSocket channel.

Examples:
  # Start with built-in defaults
  exporter run

  # Start with a config file
  exporter run --config /etc/exporter/config.yaml

  # Override listen address
  exporter run --listen 0.0.0.0:8090

  # Validate config without starting the service
  exporter run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the service")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := cli.SetupSignalHandler(cmd.Context())

	cfg, secretManager, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer secretManager.Close()

	applyRunFlags(cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	tel, err := telemetry.New(&cfg.Telemetry, Version)
	if err != nil {
		return cli.NewConfigError("telemetry", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	srv, err := server.New(ctx, cfg, tel, server.BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	reload := func(next *config.Config) {
		m, err := resolveSecrets(ctx, next)
		if err != nil {
			slog.Error("reloaded configuration has unresolved secrets, ignoring it", "error", err)
			return
		}
		_ = m.Close()
		applyRunFlags(next)
		srv.ApplyConfig(next)
	}
	if cfgFile != "" {
		go reloadOnSignal(ctx, reload)
		if cfg.Watch.Enabled {
			if err := watchConfig(ctx, cfg, reload); err != nil {
				return cli.NewCommandError("run", err)
			}
		}
	}

	slog.Info("starting exporter",
		"version", Version,
		"config", cfgFile,
		"store", cfg.Store.Backend,
		"artifacts", cfg.Artifacts.Backend,
		"records", cfg.Records.Source,
	)
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}

// applyRunFlags re-applies command line overrides, which win over the file
// on every reload.
func applyRunFlags(cfg *config.Config) {
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
}

func watchConfig(ctx context.Context, cfg *config.Config, apply func(*config.Config)) error {
	watcher, err := config.NewWatcher(cfgFile, cfg.Watch.Debounce)
	if err != nil {
		return fmt.Errorf("failed to watch configuration: %w", err)
	}
	watcher.OnReload(apply)
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			slog.Error("configuration watcher stopped", "error", err)
		}
		_ = watcher.Stop()
	}()
	return nil
}

// reloadOnSignal re-reads the configuration file on SIGHUP.
func reloadOnSignal(ctx context.Context, apply func(*config.Config)) {
	hup := cli.ReloadSignal()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.ReloadConfig(cfgFile)
			if err != nil {
				slog.Error("config reload failed, keeping previous configuration", "error", err)
				continue
			}
			apply(cfg)
		}
	}
}
