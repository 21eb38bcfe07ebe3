package cmd

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline on the configured interval and serve metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := exitOnSignal()
		defer stop()

		application, logger, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer application.Close()

		if err := application.Serve(ctx); err != nil {
			logger.Error("monitor stopped", "error", err)
			return err
		}
		logger.Info("monitor stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
