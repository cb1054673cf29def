package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/gitevent"
	"github.com/fyrsmithlabs/cadence/internal/phase"
)

// workspace is a real repository wired to a real store and event log.
type workspace struct {
	t       *testing.T
	dir     string
	repo    *git.Repository
	logPath string
	clock   time.Time
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	require.NoError(t, err)
	return &workspace{
		t:       t,
		dir:     dir,
		repo:    repo,
		logPath: filepath.Join(t.TempDir(), "data", "events.jsonl"),
		clock:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

// commit advances the clock by after, commits and runs the pipeline.
func (w *workspace) commit(msg string, after time.Duration) Result {
	w.t.Helper()
	w.clock = w.clock.Add(after)

	wt, err := w.repo.Worktree()
	require.NoError(w.t, err)
	name := filepath.Join("src", w.clock.Format("150405")+".go")
	require.NoError(w.t, os.MkdirAll(filepath.Join(w.dir, "src"), 0o755))
	require.NoError(w.t, os.WriteFile(filepath.Join(w.dir, name), []byte("package src\n"), 0o644))
	_, err = wt.Add(name)
	require.NoError(w.t, err)
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Dev", Email: "dev@example.com", When: w.clock},
	})
	require.NoError(w.t, err)

	p := New(gitevent.NewExtractor(w.dir, nil), eventlog.NewWriter(w.logPath),
		WithClock(func() time.Time { return w.clock.Add(time.Second) }))
	return p.Run(context.Background())
}

func (w *workspace) records() []eventlog.Record {
	w.t.Helper()
	recs, err := eventlog.NewReader(w.logPath).Tail(context.Background(), 100)
	require.NoError(w.t, err)
	return recs
}

func TestScenario_RedThenGreen(t *testing.T) {
	w := newWorkspace(t)

	res := w.commit("test: add Email validation test", 0)
	assert.Empty(t, res.Warnings)

	recs := w.records()
	require.Len(t, recs, 1)
	assert.Equal(t, phase.Red, recs[0].Phase)
	assert.Equal(t, "main", recs[0].Branch)
	assert.Nil(t, recs[0].CycleDurationSeconds)

	res = w.commit("feat: implement Email validation", 6*time.Minute)
	assert.Empty(t, res.Warnings)

	recs = w.records()
	require.Len(t, recs, 2)
	assert.Equal(t, phase.Green, recs[1].Phase)
	require.NotNil(t, recs[1].CycleDurationSeconds)
	assert.Equal(t, 360.0, *recs[1].CycleDurationSeconds)

	_, err := os.Stat(filepath.Join(w.dir, ".git", "cadence", "cycle-state.json"))
	assert.NoError(t, err, "state lives under the git common dir")
}

func TestScenario_OtherLeavesStateUntouched(t *testing.T) {
	w := newWorkspace(t)

	w.commit("wip: quick experiment", 0)

	recs := w.records()
	require.Len(t, recs, 1)
	assert.Equal(t, phase.Other, recs[0].Phase)
	_, err := os.Stat(filepath.Join(w.dir, ".git", "cadence", "cycle-state.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestScenario_SecondRedWins(t *testing.T) {
	w := newWorkspace(t)

	w.commit("test: first attempt", 0)
	w.commit("test: second attempt", 10*time.Minute)
	w.commit("feat: make it pass", 3*time.Minute)

	recs := w.records()
	require.Len(t, recs, 3)
	assert.Equal(t, []eventlog.Anomaly{eventlog.AnomalyRedOverwritten}, recs[1].Anomalies)
	require.NotNil(t, recs[2].CycleDurationSeconds)
	assert.Equal(t, 180.0, *recs[2].CycleDurationSeconds, "pairs only with the second RED")
}

func TestScenario_OrphanGreen(t *testing.T) {
	w := newWorkspace(t)

	w.commit("feat: no test first", 0)

	recs := w.records()
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].CycleDurationSeconds)
	assert.Equal(t, []eventlog.Anomaly{eventlog.AnomalyOrphanGreen}, recs[0].Anomalies)
}

func TestScenario_RerunIsDuplicate(t *testing.T) {
	w := newWorkspace(t)

	w.commit("test: add check", 0)
	w.commit("feat: pass check", 2*time.Minute)

	// The hook fires again for the same HEAD.
	p := New(gitevent.NewExtractor(w.dir, nil), eventlog.NewWriter(w.logPath))
	res := p.Run(context.Background())
	assert.Empty(t, res.Warnings)

	recs := w.records()
	require.Len(t, recs, 3)
	assert.Equal(t, recs[1].CommitHash, recs[2].CommitHash)
	assert.True(t, recs[2].Duplicate)
	assert.Nil(t, recs[2].CycleDurationSeconds)
	assert.Empty(t, recs[2].Anomalies, "no orphan flagged for a repeat")
}

func TestScenario_NotARepository(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	p := New(gitevent.NewExtractor(t.TempDir(), nil), eventlog.NewWriter(logPath))

	res := p.Run(context.Background())
	assert.Equal(t, StageDone, res.Final())
	assert.Equal(t, StatusFailed, res.Status(StageExtract))

	_, err := os.Stat(logPath)
	assert.True(t, os.IsNotExist(err), "nothing to record")
}
