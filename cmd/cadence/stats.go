package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cadence/internal/monitor"
	"github.com/fyrsmithlabs/cadence/internal/phase"
	"github.com/fyrsmithlabs/cadence/internal/stats"
)

var (
	statsBranch   string
	statsSince    string
	statsJSON     bool
	statsTextfile string
)

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVarP(&statsBranch, "branch", "b", "", "only summarize this branch")
	statsCmd.Flags().StringVar(&statsSince, "since", "", "only records since this time (7d, 36h, 2026-03-01)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the summary as JSON")
	statsCmd.Flags().StringVar(&statsTextfile, "textfile", "", "also write Prometheus gauges to this textfile-collector file")
}

// statsCmd summarizes the event log
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded commits and cycle times",
	Long: `Summarize the event log: commits per phase, completed red-to-green cycles
and their mean, median, p90 and maximum duration, and sequence anomalies.

Examples:
  # Everything recorded
  cadence stats

  # Last week on one branch, as JSON
  cadence stats --branch main --since 7d --json

  # Export gauges for node_exporter's textfile collector
  cadence stats --textfile /var/lib/node_exporter/cadence.prom`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg, _, err := commandLogger()
	if err != nil {
		return err
	}

	since, err := stats.ParseSince(statsSince, time.Now())
	if err != nil {
		return err
	}

	summary, err := stats.Load(cmd.Context(), cfg.Paths.LogFile, stats.Options{
		Branch: statsBranch,
		Since:  since,
	})
	if err != nil {
		return err
	}

	if statsTextfile != "" {
		if err := stats.WriteTextfile(statsTextfile, summary); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if statsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	renderStats(out, summary)
	return nil
}

var (
	statsTitleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	statsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Width(18)
	statsPhaseStyle = lipgloss.NewStyle().Width(18)
	statsDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// renderStats prints a human-readable summary.
func renderStats(w io.Writer, s stats.Summary) {
	if s.Commits == 0 {
		fmt.Fprintln(w, statsDimStyle.Render("No commits recorded."))
		return
	}

	line := func(label, value string) {
		fmt.Fprintln(w, statsLabelStyle.Render(label)+value)
	}

	fmt.Fprintln(w, statsTitleStyle.Render("Commits"))
	line("total", fmt.Sprintf("%d", s.Commits))
	if s.Duplicates > 0 {
		line("duplicates", fmt.Sprintf("%d (excluded)", s.Duplicates))
	}
	line("span", fmt.Sprintf("%s → %s",
		s.First.Local().Format(time.DateTime), s.Last.Local().Format(time.DateTime)))
	for _, p := range phase.All() {
		n := s.Phases[p]
		fmt.Fprintf(w, "%s%4d  %s\n", statsPhaseStyle.Render(monitor.RenderPhase(p)),
			n, monitor.FormatPercentage(float64(n)/float64(s.Commits)))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, statsTitleStyle.Render("Cycles"))
	renderCycles(line, s.Cycles)
	line("orphan greens", fmt.Sprintf("%d", s.Orphans))
	line("abandoned reds", fmt.Sprintf("%d", s.Abandoned))
	if s.Negative > 0 {
		line("negative cycles", fmt.Sprintf("%d", s.Negative))
	}

	if len(s.Branches) > 1 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, statsTitleStyle.Render("Branches"))
		for _, b := range s.Branches {
			median := "-"
			if b.Cycles.Completed > 0 {
				median = monitor.FormatDuration(b.Cycles.Median)
			}
			line(b.Branch, fmt.Sprintf("%d commits, %d cycles, median %s",
				b.Commits, b.Cycles.Completed, median))
		}
	}
}

func renderCycles(line func(label, value string), c stats.Cycles) {
	line("completed", fmt.Sprintf("%d", c.Completed))
	if c.Completed == 0 {
		return
	}
	line("mean", monitor.FormatDuration(c.Mean))
	line("median", monitor.FormatDuration(c.Median))
	line("p90", monitor.FormatDuration(c.P90))
	line("max", monitor.FormatDuration(c.Max))
}
