package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/monitor"
)

var (
	logCount  int
	logFollow bool
	logJSON   bool
)

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().IntVarP(&logCount, "lines", "n", 20, "number of records to show")
	logCmd.Flags().BoolVarP(&logFollow, "follow", "f", false, "keep printing records as they are appended")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "print raw JSON lines")
}

// logCmd prints recent records from the event log
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print recent records from the event log",
	Long: `Print the most recent event log records, oldest first.

Examples:
  # Last 20 records
  cadence log

  # Follow new commits as they are recorded
  cadence log -n 5 -f`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

func runLog(cmd *cobra.Command, _ []string) error {
	cfg, _, err := commandLogger()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	reader := eventlog.NewReader(cfg.Paths.LogFile)
	out := cmd.OutOrStdout()
	emit := func(rec eventlog.Record) error {
		return printRecord(out, rec, logJSON)
	}

	records, err := reader.Tail(ctx, logCount)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := emit(rec); err != nil {
			return err
		}
	}

	if !logFollow {
		return nil
	}

	var offset int64
	if info, err := os.Stat(cfg.Paths.LogFile); err == nil {
		offset = info.Size()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return reader.Follow(ctx, offset, emit)
}

// printRecord writes rec as one line.
func printRecord(w io.Writer, rec eventlog.Record, raw bool) error {
	if raw {
		return json.NewEncoder(w).Encode(rec)
	}
	_, err := fmt.Fprintln(w, formatRecord(rec))
	return err
}

// formatRecord renders a record for terminal output.
func formatRecord(rec eventlog.Record) string {
	var b strings.Builder
	b.WriteString(rec.OccurredAt.Local().Format(time.DateTime))
	b.WriteString("  ")
	b.WriteString(monitor.ShortHash(rec.CommitHash))
	b.WriteString("  ")
	b.WriteString(statsPhaseStyle.Width(10).Render(monitor.RenderPhase(rec.Phase)))
	b.WriteString(rec.Branch)
	if d, ok := rec.CycleDuration(); ok {
		b.WriteString("  cycle " + monitor.FormatDuration(d))
	}
	for _, a := range rec.Anomalies {
		b.WriteString("  [" + string(a) + "]")
	}
	if rec.Duplicate {
		b.WriteString("  [duplicate]")
	}
	if msg := firstLine(rec.Message); msg != "" {
		b.WriteString("  " + msg)
	}
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
