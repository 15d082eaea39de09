package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate the configuration",
	Long: `Load the configuration with environment overrides, resolve secret
references and validate the result. Exits with status 2 when invalid.

Examples:
  exporter validate-config --config /etc/exporter/config.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, manager, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		defer manager.Close()

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "✓ Configuration valid")
		fmt.Fprintf(w, "  listen:    %s (tls: %t)\n", cfg.Server.ListenAddress, cfg.Server.TLS.Enabled)
		fmt.Fprintf(w, "  store:     %s\n", cfg.Store.Backend)
		fmt.Fprintf(w, "  artifacts: %s\n", cfg.Artifacts.Backend)
		fmt.Fprintf(w, "  records:   %s\n", cfg.Records.Source)
		fmt.Fprintf(w, "  workers:   %d (queue %d)\n", cfg.Jobs.Workers, cfg.Jobs.QueueSize)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
