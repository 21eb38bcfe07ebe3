package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/usecase"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch and process one batch of filings",
	Args:  cobra.NoArgs,
	RunE:  runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

type resultView struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type reportView struct {
	RunID    string                `json:"run_id"`
	Duration string                `json:"duration"`
	Alerts   []domain.AlertPayload `json:"alerts"`
	Results  []resultView          `json:"results"`
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := exitOnSignal()
	defer stop()

	application, _, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	report, err := application.RunOnce(ctx)
	if err != nil {
		return err
	}

	view := newReportView(report)
	if output == "json" {
		return printJSON(cmd.OutOrStdout(), view)
	}
	return printReport(cmd.OutOrStdout(), view)
}

func newReportView(report usecase.BatchReport) reportView {
	view := reportView{
		RunID:    report.RunID,
		Duration: report.Finished.Sub(report.Started).Round(time.Millisecond).String(),
		Alerts:   report.Alerts,
	}
	for _, res := range report.Results {
		rv := resultView{EventID: res.EventID, Outcome: string(res.Outcome), Reason: res.Reason}
		if res.Err != nil {
			rv.Error = res.Err.Error()
		}
		view.Results = append(view.Results, rv)
	}
	return view
}

func printReport(w io.Writer, view reportView) error {
	fmt.Fprintf(w, "Run %s: %d events, %d alerts in %s\n\n", view.RunID, len(view.Results), len(view.Alerts), view.Duration)
	if len(view.Results) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tOUTCOME\tREASON\tERROR")
	for _, r := range view.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.EventID, r.Outcome, r.Reason, r.Error)
	}
	return tw.Flush()
}

func exitOnSignal() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
