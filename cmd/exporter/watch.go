package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"mercator-hq/exporter/pkg/api/realtime"
	"mercator-hq/exporter/pkg/cli"
	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export"
)

var watchFlags struct {
	url    string
	apiKey string
}

var watchCmd = &cobra.Command{
	Use:   "watch <export-id>",
	Short: "Follow the progress of an export",
	Long: `Connect to the progress channel of a running service and draw a progress
bar for one export until it completes, fails or is cancelled.

The command exits non-zero when the export does not complete.

Examples:
  # Follow an export on the local service
  exporter watch 6f1c2a9e-...

  # Follow an export on a remote service
  exporter watch 6f1c2a9e-... --url wss://exports.example.com/ws/exports --api-key $KEY`,
	Args: cobra.ExactArgs(1),
	RunE: watchExport,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchFlags.url, "url", "", "progress channel URL (derived from the config when empty)")
	watchCmd.Flags().StringVar(&watchFlags.apiKey, "api-key", "", "API key sent as a bearer token")
}

func watchExport(cmd *cobra.Command, args []string) error {
	ctx := cli.SetupSignalHandler(cmd.Context())

	url := watchFlags.url
	if url == "" {
		cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
		if err != nil {
			return err
		}
		url = channelURL(cfg)
	}

	status, err := followExport(ctx, url, watchFlags.apiKey, args[0], cli.NewProgressReporter(cmd.ErrOrStderr()))
	if err != nil {
		return cli.NewCommandError("watch", err)
	}
	if status != export.StatusCompleted {
		return cli.NewCommandError("watch", fmt.Errorf("export %s %s", args[0], status))
	}
	return nil
}

// channelURL derives the progress channel URL of the configured listener.
func channelURL(cfg *config.Config) string {
	scheme := "ws"
	if cfg.Server.TLS.Enabled {
		scheme = "wss"
	}
	host := cfg.Server.ListenAddress
	if strings.HasPrefix(host, ":") || strings.HasPrefix(host, "0.0.0.0:") {
		host = "localhost" + host[strings.LastIndex(host, ":"):]
	}
	return scheme + "://" + host + cfg.Server.WebSocket.Path
}

// followExport subscribes to one export and reports its progress until a
// terminal status arrives. It returns that status.
func followExport(ctx context.Context, url, apiKey, exportID string, reporter cli.ProgressReporter) (export.Status, error) {
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("failed to connect to %s: %s", url, resp.Status)
		}
		return "", fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(realtime.Inbound{Type: realtime.TypeSubscribe, ExportID: exportID}); err != nil {
		return "", fmt.Errorf("failed to subscribe: %w", err)
	}

	for {
		var msg realtime.Outbound
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("progress channel closed: %w", err)
		}

		switch msg.Type {
		case realtime.TypeError:
			if msg.ExportID == "" || msg.ExportID == exportID {
				return "", errors.New(msg.Message)
			}
		case realtime.TypeProgress:
			if msg.ExportID != exportID || msg.Progress == nil {
				continue
			}
			reporter.Update(msg.Progress.Progress, msg.Progress.Message)
			if msg.Progress.Status.IsTerminal() {
				reporter.Finish(string(msg.Progress.Status))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return msg.Progress.Status, nil
			}
		}
	}
}
