package stats

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/phase"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func record(hash, branch string, p phase.Phase, minute int) eventlog.Record {
	return eventlog.Record{
		Schema:     eventlog.SchemaVersion,
		CommitHash: hash,
		Branch:     branch,
		Phase:      p,
		OccurredAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func green(hash, branch string, minute int, cycle time.Duration) eventlog.Record {
	rec := record(hash, branch, phase.Green, minute)
	rec.SetCycle(rec.OccurredAt.Add(-cycle), cycle)
	return rec
}

func withAnomaly(rec eventlog.Record, a eventlog.Anomaly) eventlog.Record {
	rec.Anomalies = append(rec.Anomalies, a)
	return rec
}

func sampleLog() []eventlog.Record {
	dup := green("g1", "main", 7, 6*time.Minute)
	dup.Duplicate = true

	return []eventlog.Record{
		record("r1", "main", phase.Red, 1),
		green("g1", "main", 7, 6*time.Minute),
		dup,
		record("r2", "main", phase.Red, 10),
		withAnomaly(record("r3", "main", phase.Red, 12), eventlog.AnomalyRedOverwritten),
		green("g2", "main", 14, 2*time.Minute),
		record("f1", "feature", phase.Refactor, 20),
		record("r4", "feature", phase.Red, 21),
		green("g3", "feature", 31, 10*time.Minute),
		withAnomaly(record("g4", "feature", phase.Green, 40), eventlog.AnomalyOrphanGreen),
		record("t1", "feature", phase.Tidy, 41),
		record("o1", "main", phase.Other, 50),
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleLog(), Options{})

	assert.Equal(t, 11, s.Commits)
	assert.Equal(t, 1, s.Duplicates)
	assert.Equal(t, map[phase.Phase]int{
		phase.Red:      4,
		phase.Green:    4,
		phase.Refactor: 1,
		phase.Tidy:     1,
		phase.Other:    1,
	}, s.Phases)
	assert.Equal(t, 1, s.Orphans)
	assert.Equal(t, 1, s.Abandoned)
	assert.Equal(t, 0, s.Negative)
	assert.Equal(t, base.Add(time.Minute), s.First)
	assert.Equal(t, base.Add(50*time.Minute), s.Last)

	assert.Equal(t, Cycles{
		Completed: 3,
		Mean:      6 * time.Minute,
		Median:    6 * time.Minute,
		P90:       10 * time.Minute,
		Max:       10 * time.Minute,
	}, s.Cycles)
	assert.Equal(t, []time.Duration{6 * time.Minute, 2 * time.Minute, 10 * time.Minute}, s.Durations)

	require.Len(t, s.Branches, 2)
	assert.Equal(t, "main", s.Branches[0].Branch)
	assert.True(t, s.Branches[0].Main)
	assert.Equal(t, 6, s.Branches[0].Commits)
	assert.Equal(t, 2, s.Branches[0].Cycles.Completed)
	assert.Equal(t, 4*time.Minute, s.Branches[0].Cycles.Median)
	assert.Equal(t, "feature", s.Branches[1].Branch)
	assert.False(t, s.Branches[1].Main)
	assert.Equal(t, 5, s.Branches[1].Commits)
	assert.Equal(t, 1, s.Branches[1].Cycles.Completed)
}

func TestSummarize_BranchOrder(t *testing.T) {
	s := Summarize([]eventlog.Record{
		record("h1", "zeta", phase.Other, 1),
		record("h2", "master", phase.Other, 2),
		record("h3", "alpha", phase.Other, 3),
		record("h4", "main", phase.Other, 4),
	}, Options{})
	var got []string
	for _, b := range s.Branches {
		got = append(got, b.Branch)
	}
	assert.Equal(t, []string{"main", "master", "alpha", "zeta"}, got)
}

func TestSummarize_Filters(t *testing.T) {
	tests := []struct {
		name          string
		opts          Options
		wantCommits   int
		wantCompleted int
	}{
		{name: "branch", opts: Options{Branch: "feature"}, wantCommits: 5, wantCompleted: 1},
		{name: "since", opts: Options{Since: base.Add(20 * time.Minute)}, wantCommits: 6, wantCompleted: 1},
		{name: "branch and since", opts: Options{Branch: "main", Since: base.Add(11 * time.Minute)}, wantCommits: 3, wantCompleted: 1},
		{name: "unknown branch", opts: Options{Branch: "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(sampleLog(), tt.opts)
			assert.Equal(t, tt.wantCommits, s.Commits)
			assert.Equal(t, tt.wantCompleted, s.Cycles.Completed)
		})
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, Options{})
	assert.Equal(t, 0, s.Commits)
	assert.Equal(t, Cycles{}, s.Cycles)
	assert.Empty(t, s.Branches)
	assert.Len(t, s.Phases, len(phase.All()))
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		in   []time.Duration
		want Cycles
	}{
		{name: "single", in: []time.Duration{time.Minute}, want: Cycles{1, time.Minute, time.Minute, time.Minute, time.Minute}},
		{
			name: "ten",
			in: []time.Duration{
				10 * time.Second, 1 * time.Second, 9 * time.Second, 2 * time.Second, 8 * time.Second,
				3 * time.Second, 7 * time.Second, 4 * time.Second, 6 * time.Second, 5 * time.Second,
			},
			want: Cycles{10, 5500 * time.Millisecond, 5500 * time.Millisecond, 9 * time.Second, 10 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.in))
		})
	}
}

func TestSummary_JSON(t *testing.T) {
	s := Summarize(sampleLog(), Options{Branch: "feature"})
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 600.0, out["cycles"].(map[string]any)["max_seconds"])
	assert.Equal(t, 1.0, out["phases"].(map[string]any)["TIDY"])
	assert.NotContains(t, out, "Durations")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	w := eventlog.NewWriter(path)
	for _, rec := range sampleLog() {
		require.NoError(t, w.Append(rec))
	}

	s, err := Load(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 11, s.Commits)
	assert.Equal(t, 3, s.Cycles.Completed)
}

func TestLoad_MissingLog(t *testing.T) {
	s, err := Load(context.Background(), filepath.Join(t.TempDir(), "none.jsonl"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Commits)
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.prom")
	require.NoError(t, WriteTextfile(path, Summarize(sampleLog(), Options{})))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `cadence_commits{branch="main",phase="RED"} 3`)
	assert.Contains(t, text, `cadence_cycles_completed{branch="main"} 2`)
	assert.Contains(t, text, `cadence_cycle_duration_seconds{stat="max"} 600`)
	assert.Contains(t, text, `cadence_cycle_anomalies{kind="orphan_green"} 1`)
	assert.Contains(t, text, `cadence_duplicate_records 1`)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value   string
		want    time.Time
		wantErr bool
	}{
		{value: "", want: time.Time{}},
		{value: "7d", want: now.Add(-7 * 24 * time.Hour)},
		{value: "2w", want: now.Add(-14 * 24 * time.Hour)},
		{value: "36h", want: now.Add(-36 * time.Hour)},
		{value: "2026-03-01", want: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{value: "2026-03-01T08:00:00Z", want: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		{value: "yesterday", wantErr: true},
		{value: "-5h", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseSince(tt.value, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}
