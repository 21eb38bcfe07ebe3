package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"FilingsMonitor/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status <event-id>",
	Short: "Show the processing record of an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := exitOnSignal()
		defer stop()

		application, _, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer application.Close()

		rec, found, err := application.Store().Lookup(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no record for %s", args[0])
		}

		view := newRecordView(rec)
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), view)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Event:     %s\n", view.EventID)
		fmt.Fprintf(w, "Issuer:    %s\n", view.IssuerID)
		fmt.Fprintf(w, "Status:    %s\n", view.Status)
		fmt.Fprintf(w, "Processed: %s\n", view.ProcessedAt)
		if view.Reason != "" {
			fmt.Fprintf(w, "Reason:    %s\n", view.Reason)
		}
		if view.FailureKind != "" {
			fmt.Fprintf(w, "Failure:   %s after %d attempts\n", view.FailureKind, view.Attempts)
		}
		if c := view.Classification; c != nil {
			fmt.Fprintf(w, "Type:      %s\nImpact:    %s\n", c.EventType, c.ImpactLevel)
			fmt.Fprintf(w, "Summary:\n  - %s\n", strings.Join(c.SummaryBullets, "\n  - "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type recordView struct {
	EventID        string                 `json:"event_id"`
	IssuerID       string                 `json:"issuer_id"`
	Status         string                 `json:"status"`
	Reason         string                 `json:"reason,omitempty"`
	FailureKind    string                 `json:"failure_kind,omitempty"`
	Attempts       int                    `json:"attempts,omitempty"`
	ProcessedAt    string                 `json:"processed_at"`
	Classification *domain.Classification `json:"classification,omitempty"`
}

func newRecordView(rec domain.ProcessingRecord) recordView {
	return recordView{
		EventID:        rec.EventID,
		IssuerID:       rec.IssuerID,
		Status:         string(rec.Status),
		Reason:         rec.Reason,
		FailureKind:    string(rec.FailureKind),
		Attempts:       rec.Attempts,
		ProcessedAt:    rec.ProcessedAt.UTC().Format(time.RFC3339),
		Classification: rec.Classification,
	}
}
