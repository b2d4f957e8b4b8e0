package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dramline/caskwatch/internal/cycle"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle <live|archive>",
	Short: "Run one crawl + reconcile + notify cycle",
	Long:  "Crawls the selected listing, reconciles it against the local mirror, expires stale recently-added flags, and delivers alert notifications for new arrivals.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, ok := cycle.ParseKind(args[0])
		if !ok {
			return eris.Errorf("unknown cycle kind %q (want live or archive)", args[0])
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runner, err := initRunner(st)
		if err != nil {
			return err
		}

		summary, err := runner.Run(ctx, kind)
		if err != nil {
			return eris.Wrap(err, "cycle")
		}

		formatSummary(os.Stdout, summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}

// formatSummary writes a tabular cycle summary to w.
func formatSummary(out io.Writer, s *cycle.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Kind:\t%s\n", s.Kind)
	_, _ = fmt.Fprintf(w, "Crawled:\t%d\n", s.Crawled)
	_, _ = fmt.Fprintf(w, "New:\t%d\n", s.New)
	_, _ = fmt.Fprintf(w, "Removed:\t%d\n", s.Removed)
	_, _ = fmt.Fprintf(w, "Retained:\t%d\n", s.Retained)
	_, _ = fmt.Fprintf(w, "Inserted:\t%d\n", s.Inserted)
	_, _ = fmt.Fprintf(w, "Refreshed:\t%d\n", s.Refreshed)
	_, _ = fmt.Fprintf(w, "Dropped:\t%d\n", s.Dropped)
	if s.FetchFailures > 0 || s.WriteFailures > 0 {
		_, _ = fmt.Fprintf(w, "Fetch failures:\t%d\n", s.FetchFailures)
		_, _ = fmt.Fprintf(w, "Write failures:\t%d\n", s.WriteFailures)
	}
	_, _ = fmt.Fprintf(w, "Expired:\t%d\n", s.Expired)
	_, _ = fmt.Fprintf(w, "Notified:\t%d\n", s.Notified)
	if s.NotifyFailures > 0 {
		_, _ = fmt.Fprintf(w, "Notify failures:\t%d\n", s.NotifyFailures)
	}
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", s.Duration.Round(time.Millisecond))
	_ = w.Flush()
}
