package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cadence/internal/monitor"
)

var (
	dashboardBranch   string
	dashboardInterval time.Duration
)

func init() {
	rootCmd.AddCommand(dashboardCmd)

	dashboardCmd.Flags().StringVarP(&dashboardBranch, "branch", "b", "", "only show this branch")
	dashboardCmd.Flags().DurationVar(&dashboardInterval, "interval", 2*time.Second, "refresh interval")
}

// dashboardCmd runs the live terminal dashboard
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live terminal dashboard of cycle times",
	Long: `Show a live view of the event log: cycle-time sparkline, phase mix and
the latest commits. Press r to refresh and q to quit.`,
	Args: cobra.NoArgs,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, _ []string) error {
	cfg, _, err := commandLogger()
	if err != nil {
		return err
	}

	model := monitor.NewModel(cfg.Paths.LogFile, dashboardBranch, dashboardInterval)
	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()))
	_, err = p.Run()
	return err
}
