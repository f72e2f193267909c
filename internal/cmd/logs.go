package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gcpal/pkg/logging"
	"github.com/3leaps/gcpal/pkg/output"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Cloud Logging entries",
	Long: `List and tail Cloud Logging entries for the project.

Examples:
  gcpal logs ls --severity ERROR --hours 6
  gcpal logs ls --query 'resource.type="cloud_run_revision"' --limit 20
  gcpal logs tail --severity WARNING`,
}

var (
	logsQuery    string
	logsSeverity string
	logsHours    float64
	logsLimit    int
	logsAsc      bool
)

var logsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List log entries",
	Args:  cobra.NoArgs,
	RunE:  runLogsLs,
}

var logsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream new log entries until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runLogsTail,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsLsCmd, logsTailCmd)

	for _, c := range []*cobra.Command{logsLsCmd, logsTailCmd} {
		c.Flags().StringVarP(&logsQuery, "query", "q", "", "Cloud Logging query")
		c.Flags().StringVarP(&logsSeverity, "severity", "s", "", "Minimum severity, e.g. ERROR")
	}
	logsLsCmd.Flags().Float64Var(&logsHours, "hours", 0, "Only entries from the last N hours")
	logsLsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 0, "Max entries (default 100 without a query)")
	logsLsCmd.Flags().BoolVar(&logsAsc, "asc", false, "Oldest first")
}

func logRecord(e logging.LogEntry) *output.LogRecord {
	rec := &output.LogRecord{
		LogName:   e.LogName,
		Severity:  e.Severity,
		Timestamp: e.Timestamp,
		Resource:  e.Resource,
		Message:   e.MessageString(),
		Labels:    e.Labels,
	}
	if _, ok := e.Message.(string); !ok {
		rec.Payload = e.Message
	}
	return rec
}

func runLogsLs(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, logging.Service)
	l, err := logging.New(ctx, serviceOptions()...)
	if err != nil {
		return fail(w, "Failed to open Cloud Logging", "", err)
	}
	defer func() { _ = l.Close() }()

	order := logging.OrderDesc
	if logsAsc {
		order = logging.OrderAsc
	}
	entries, err := l.Ls(ctx, logging.LsOptions{
		Query:     logsQuery,
		Severity:  logsSeverity,
		TimeRange: logsHours,
		Limit:     logsLimit,
		Order:     order,
	})
	if err != nil {
		return fail(w, "Failed to list log entries", l.String(), err)
	}
	for _, e := range entries {
		if err := w.WriteLog(ctx, logRecord(e)); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return finish(ctx, w)
}

func runLogsTail(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	w := newWriter(cmd, logging.Service)
	l, err := logging.New(ctx, serviceOptions()...)
	if err != nil {
		return fail(w, "Failed to open Cloud Logging", "", err)
	}
	defer func() { _ = l.Close() }()

	cfg := currentConfig()
	opts := logging.StreamOptions{
		Query:         logsQuery,
		Severity:      logsSeverity,
		PollInterval:  cfg.Logs.PollInterval,
		LatencyBuffer: cfg.Logs.LatencyBuffer,
		Since:         time.Now().Add(-cfg.Logs.LatencyBuffer),
	}
	err = l.Stream(ctx, opts, func(e logging.LogEntry) error {
		return w.WriteLog(ctx, logRecord(e))
	})
	if err != nil {
		return fail(w, "Log stream failed", l.String(), err)
	}
	// Stream returns nil on interrupt; the summary is still written.
	return finish(context.WithoutCancel(ctx), w)
}
