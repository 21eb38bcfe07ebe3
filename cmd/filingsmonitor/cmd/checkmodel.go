package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var checkModelCmd = &cobra.Command{
	Use:   "check-model",
	Short: "Verify the model backend is reachable and serves the configured model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := exitOnSignal()
		defer stop()

		application, _, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer application.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := application.CheckModel(pingCtx); err != nil {
			return fmt.Errorf("model check failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "model backend OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkModelCmd)
}
