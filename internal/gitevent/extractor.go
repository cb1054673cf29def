// Package gitevent turns a git commit into a CommitEvent.
//
// The extractor reads everything it needs from the object database with
// go-git, so no git binary is required at hook time. Only a missing commit is
// an error; branch and diff statistics degrade to sentinels and anomalies.
package gitevent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/logging"
	"github.com/fyrsmithlabs/cadence/internal/phase"
	gitlayout "github.com/fyrsmithlabs/cadence/pkg/git"
)

// UnknownBranch is recorded when the branch cannot be determined.
const UnknownBranch = "unknown"

// ErrNoCommit indicates no commit could be resolved, so there is nothing to record.
var ErrNoCommit = errors.New("no commit to record")

// CommitEvent is a single commit observed by the hook.
type CommitEvent struct {
	Hash         string
	Branch       string
	Message      string
	Phase        phase.Phase
	FilesChanged int
	LinesAdded   int
	LinesRemoved int
	Paths        []string
	OccurredAt   time.Time
	Repository   string
	Author       string

	// GitCommonDir is where per-repository cadence state lives.
	GitCommonDir string

	// CycleDuration is set only on a GREEN that closes a cycle.
	CycleDuration *time.Duration
	CycleStart    *time.Time

	Anomalies []eventlog.Anomaly
	Duplicate bool
}

// AddAnomaly attaches a, ignoring repeats.
func (e *CommitEvent) AddAnomaly(a eventlog.Anomaly) {
	for _, x := range e.Anomalies {
		if x == a {
			return
		}
	}
	e.Anomalies = append(e.Anomalies, a)
}

// Record serializes the event into an event log record.
func (e *CommitEvent) Record(invocationID string, recordedAt time.Time) eventlog.Record {
	rec := eventlog.Record{
		Schema:       eventlog.SchemaVersion,
		InvocationID: invocationID,
		RecordedAt:   recordedAt.UTC(),
		Repository:   e.Repository,
		CommitHash:   e.Hash,
		Branch:       e.Branch,
		Message:      e.Message,
		Phase:        e.Phase,
		Author:       e.Author,
		FilesChanged: e.FilesChanged,
		LinesAdded:   e.LinesAdded,
		LinesRemoved: e.LinesRemoved,
		OccurredAt:   e.OccurredAt.UTC(),
		Duplicate:    e.Duplicate,
	}
	if len(e.Anomalies) > 0 {
		rec.Anomalies = append([]eventlog.Anomaly(nil), e.Anomalies...)
	}
	if e.CycleDuration != nil && e.CycleStart != nil {
		rec.SetCycle(e.CycleStart.UTC(), *e.CycleDuration)
	}
	return rec
}

// Extractor reads commits from the repository containing Dir.
type Extractor struct {
	dir    string
	logger *logging.Logger
}

// NewExtractor creates an extractor rooted at dir.
func NewExtractor(dir string, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Extractor{dir: dir, logger: logger.Named("gitevent")}
}

// Extract builds the event for ref, or HEAD when ref is empty. The phase is
// left for the caller to classify.
func (x *Extractor) Extract(ctx context.Context, ref string) (*CommitEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == "" {
		ref = "HEAD"
	}

	repo, err := git.PlainOpenWithOptions(x.dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening repository at %s: %v", ErrNoCommit, x.dir, err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrNoCommit, ref, err)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("%w: reading commit %s: %v", ErrNoCommit, hash, err)
	}

	event := &CommitEvent{
		Hash:       commit.Hash.String(),
		Message:    commit.Message,
		OccurredAt: occurredAt(commit),
		Author:     commit.Author.Email,
	}

	layout, layoutErr := gitlayout.Discover(x.dir)
	if layoutErr == nil {
		event.Repository = layout.MainWorkTree()
		event.GitCommonDir = layout.CommonDir
	} else {
		x.logger.Debug(ctx, "repository layout unavailable", zap.Error(layoutErr))
		if wt, err := repo.Worktree(); err == nil {
			event.Repository = wt.Filesystem.Root()
		}
	}

	event.Branch = x.branch(ctx, repo, layout)
	if event.Branch == UnknownBranch {
		event.AddAnomaly(eventlog.AnomalyBranchUnknown)
	}

	stats, err := commit.StatsContext(ctx)
	if err != nil {
		x.logger.Warn(ctx, "diff statistics unavailable",
			zap.String("commit", event.Hash),
			zap.Error(err))
		event.AddAnomaly(eventlog.AnomalyStatsUnavailable)
	} else {
		applyStats(event, stats)
	}

	return event, nil
}

// branch reads the branch from HEAD, falling back to the HEAD file itself.
func (x *Extractor) branch(ctx context.Context, repo *git.Repository, layout *gitlayout.Layout) string {
	head, err := repo.Head()
	if err == nil && head.Name().IsBranch() {
		return head.Name().Short()
	}
	if err != nil {
		x.logger.Debug(ctx, "reading HEAD reference failed", zap.Error(err))
	}

	if layout == nil {
		return UnknownBranch
	}
	name, err := gitlayout.DetectBranch(layout.GitDir)
	if err != nil || name == "" {
		return UnknownBranch
	}
	return name
}

func occurredAt(c *object.Commit) time.Time {
	if !c.Committer.When.IsZero() {
		return c.Committer.When
	}
	return c.Author.When
}

func applyStats(event *CommitEvent, stats object.FileStats) {
	event.FilesChanged = len(stats)
	event.Paths = make([]string, 0, len(stats))
	for _, s := range stats {
		event.LinesAdded += s.Addition
		event.LinesRemoved += s.Deletion
		event.Paths = append(event.Paths, statPath(s.Name))
	}
}

// statPath returns the destination path of a rename stat ("old => new").
func statPath(name string) string {
	if _, to, ok := strings.Cut(name, " => "); ok {
		return filepath.ToSlash(to)
	}
	return filepath.ToSlash(name)
}
