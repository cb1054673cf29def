// Package stats aggregates the event log into cycle statistics.
package stats

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/phase"
	gitlayout "github.com/fyrsmithlabs/cadence/pkg/git"
)

// Options filters the records that are summarized.
type Options struct {
	// Branch limits the summary to one branch when set.
	Branch string

	// Since drops records that occurred before it when non-zero.
	Since time.Time
}

// Cycles describes completed RED to GREEN cycles.
type Cycles struct {
	Completed int
	Mean      time.Duration
	Median    time.Duration
	P90       time.Duration
	Max       time.Duration
}

// MarshalJSON reports durations in seconds.
func (c Cycles) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Completed int     `json:"completed"`
		Mean      float64 `json:"mean_seconds"`
		Median    float64 `json:"median_seconds"`
		P90       float64 `json:"p90_seconds"`
		Max       float64 `json:"max_seconds"`
	}{c.Completed, c.Mean.Seconds(), c.Median.Seconds(), c.P90.Seconds(), c.Max.Seconds()})
}

// BranchSummary is the per-branch breakdown.
type BranchSummary struct {
	Branch  string              `json:"branch"`
	Main    bool                `json:"main,omitempty"`
	Commits int                 `json:"commits"`
	Phases  map[phase.Phase]int `json:"phases"`
	Cycles  Cycles              `json:"cycles"`
}

// Summary aggregates a set of log records.
type Summary struct {
	Commits    int                 `json:"commits"`
	Duplicates int                 `json:"duplicates"`
	Phases     map[phase.Phase]int `json:"phases"`
	Cycles     Cycles              `json:"cycles"`

	// Orphans counts GREEN commits with no pending RED.
	Orphans int `json:"orphan_greens"`

	// Abandoned counts pending REDs replaced by a later RED.
	Abandoned int `json:"abandoned_reds"`

	Negative int `json:"negative_cycles"`

	First    time.Time       `json:"first,omitzero"`
	Last     time.Time       `json:"last,omitzero"`
	Branches []BranchSummary `json:"branches"`

	// Durations holds completed cycle durations in log order.
	Durations []time.Duration `json:"-"`
}

// Summarize aggregates records. Records flagged duplicate are counted but
// contribute nothing else.
func Summarize(records []eventlog.Record, opts Options) Summary {
	s := Summary{Phases: emptyPhases()}
	branches := map[string]*branchAcc{}

	for i := range records {
		rec := &records[i]
		if opts.Branch != "" && rec.Branch != opts.Branch {
			continue
		}
		if !opts.Since.IsZero() && rec.OccurredAt.Before(opts.Since) {
			continue
		}
		if rec.Duplicate {
			s.Duplicates++
			continue
		}

		s.Commits++
		s.Phases[rec.Phase]++
		if s.First.IsZero() || rec.OccurredAt.Before(s.First) {
			s.First = rec.OccurredAt
		}
		if rec.OccurredAt.After(s.Last) {
			s.Last = rec.OccurredAt
		}

		b, ok := branches[rec.Branch]
		if !ok {
			b = &branchAcc{summary: BranchSummary{
				Branch: rec.Branch,
				Main:   gitlayout.IsMainBranch(rec.Branch),
				Phases: emptyPhases(),
			}}
			branches[rec.Branch] = b
		}
		b.summary.Commits++
		b.summary.Phases[rec.Phase]++

		if rec.HasAnomaly(eventlog.AnomalyOrphanGreen) {
			s.Orphans++
		}
		if rec.HasAnomaly(eventlog.AnomalyRedOverwritten) {
			s.Abandoned++
		}
		if rec.HasAnomaly(eventlog.AnomalyNegativeCycle) {
			s.Negative++
		}
		if d, ok := rec.CycleDuration(); ok {
			s.Durations = append(s.Durations, d)
			b.durations = append(b.durations, d)
		}
	}

	s.Cycles = describe(s.Durations)
	for _, b := range branches {
		b.summary.Cycles = describe(b.durations)
		s.Branches = append(s.Branches, b.summary)
	}
	// Main branches first, then by name.
	sort.Slice(s.Branches, func(i, j int) bool {
		if s.Branches[i].Main != s.Branches[j].Main {
			return s.Branches[i].Main
		}
		return s.Branches[i].Branch < s.Branches[j].Branch
	})
	return s
}

// Load scans the log at path and summarizes it.
func Load(ctx context.Context, path string, opts Options) (Summary, error) {
	var records []eventlog.Record
	_, err := eventlog.NewReader(path).Scan(ctx, func(rec eventlog.Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(records, opts), nil
}

type branchAcc struct {
	summary   BranchSummary
	durations []time.Duration
}

func emptyPhases() map[phase.Phase]int {
	m := make(map[phase.Phase]int, len(phase.All()))
	for _, p := range phase.All() {
		m[p] = 0
	}
	return m
}

func describe(durations []time.Duration) Cycles {
	n := len(durations)
	if n == 0 {
		return Cycles{}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return Cycles{
		Completed: n,
		Mean:      total / time.Duration(n),
		Median:    median,
		P90:       percentile(sorted, 0.9),
		Max:       sorted[n-1],
	}
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
