// Package cmd contains the CLI commands of the filings monitor.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"FilingsMonitor/internal/app"
	"FilingsMonitor/internal/config"
	"FilingsMonitor/internal/logging"
)

var (
	configPath string
	output     string
)

var rootCmd = &cobra.Command{
	Use:   "filingsmonitor",
	Short: "Monitor SEC filings and alert on market-moving events",
	Long: `filingsmonitor polls EDGAR for the configured watch-list, filters noise,
classifies candidate filings with a language model and sends at most one
alert per event.

Examples:
  # Process one batch and exit
  filingsmonitor run --config config.yaml

  # Poll on the configured interval and expose metrics
  filingsmonitor serve

  # Re-queue every backend or timeout failure
  filingsmonitor requeue --transient`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $FILINGS_MONITOR_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// openApp loads config and wires the application. The caller closes it.
func openApp(ctx context.Context) (*app.Application, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return application, logger, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
