package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"FilingsMonitor/internal/domain"
)

var requeueTransient bool

var requeueCmd = &cobra.Command{
	Use:   "requeue [event-id]",
	Short: "Re-queue failed events for the next run",
	Long: `Re-queue a single failed event by ID, or with --transient every event that
failed because the model backend was unavailable or timed out. Schema
failures are only re-queued by ID.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if requeueTransient == (len(args) == 1) {
			return errors.New("pass either an event ID or --transient")
		}

		ctx, stop := exitOnSignal()
		defer stop()

		application, _, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer application.Close()

		if requeueTransient {
			n, err := application.Store().RequeueFailed(ctx, []domain.FailureKind{
				domain.FailureBackendUnavailable,
				domain.FailureTimeout,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-queued %d events\n", n)
			return nil
		}

		if err := application.Store().Requeue(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "re-queued %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requeueCmd)
	requeueCmd.Flags().BoolVar(&requeueTransient, "transient", false, "re-queue all backend_unavailable and timeout failures")
}
