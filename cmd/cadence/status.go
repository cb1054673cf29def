package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cadence/internal/config"
	"github.com/fyrsmithlabs/cadence/internal/cyclestate"
	"github.com/fyrsmithlabs/cadence/internal/monitor"
	"github.com/fyrsmithlabs/cadence/internal/phase"
	gitlayout "github.com/fyrsmithlabs/cadence/pkg/git"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusCmd shows the open cycles of the current repository
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending red commits for this repository",
	Long: `Show, per branch, whether a RED commit is waiting for its GREEN and how
long it has been open. Linked worktrees share this state.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := commandLogger()
	if err != nil {
		return err
	}

	dir, err := stateDir(cfg, repoDir)
	if err != nil {
		return err
	}
	store := cyclestate.NewStore(dir,
		cyclestate.WithLockTimeout(cfg.Cycle.LockTimeout.Duration()),
		cyclestate.WithLogger(logger))

	branches, err := store.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading cycle state: %w", err)
	}
	renderStatus(cmd.OutOrStdout(), branches, time.Now())
	return nil
}

// stateDir resolves where the cycle state of the repository at dir lives.
func stateDir(cfg *config.Config, dir string) (string, error) {
	if cfg.Paths.StateDir != "" {
		return cfg.Paths.StateDir, nil
	}
	layout, err := gitlayout.Discover(dir)
	if err != nil {
		return "", err
	}
	return cyclestate.DirFor(layout.CommonDir), nil
}

func renderStatus(w io.Writer, branches []cyclestate.BranchState, now time.Time) {
	if len(branches) == 0 {
		fmt.Fprintln(w, statsDimStyle.Render("No cycle state yet."))
		return
	}
	for _, b := range branches {
		if b.PendingRedAt == nil {
			fmt.Fprintf(w, "%s no open cycle (updated %s)\n",
				statsLabelStyle.Render(b.Branch), monitor.FormatAge(b.UpdatedAt, now))
			continue
		}
		fmt.Fprintf(w, "%s %s %s open for %s\n",
			statsLabelStyle.Render(b.Branch),
			monitor.RenderPhase(phase.Red),
			monitor.ShortHash(b.PendingRedHash),
			monitor.FormatDuration(now.Sub(*b.PendingRedAt)))
	}
}
