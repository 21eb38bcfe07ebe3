package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	historySince time.Duration
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently sent alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := exitOnSignal()
		defer stop()

		application, _, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer application.Close()

		alerts, err := application.Store().RecentAlerts(ctx, time.Now().Add(-historySince), historyLimit)
		if err != nil {
			return err
		}

		if output == "json" {
			return printJSON(cmd.OutOrStdout(), alerts)
		}

		if len(alerts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no alerts")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SENT\tISSUER\tTYPE\tEVENT")
		for _, a := range alerts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.SentAt.Local().Format(time.RFC3339), a.IssuerID, a.EventType, a.EventID)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().DurationVar(&historySince, "since", 7*24*time.Hour, "look back this far")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum alerts to list")
}
