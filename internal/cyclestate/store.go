// Package cyclestate tracks the open RED→GREEN cycle of each branch.
//
// State is a small JSON document shared by every hook invocation in a
// repository. Readers and writers serialize on an advisory file lock; a
// process that cannot obtain the lock within its timeout gives up rather than
// stall the commit.
package cyclestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/logging"
	"github.com/fyrsmithlabs/cadence/internal/phase"
)

const (
	stateFileName = "cycle-state.json"
	lockFileName  = "cycle-state.lock"

	// maxRecentHashes bounds the per-branch duplicate window.
	maxRecentHashes = 32

	lockRetryDelay = 10 * time.Millisecond
	stateVersion   = 1
)

var (
	// ErrLockTimeout indicates the state lock was not acquired in time
	ErrLockTimeout = errors.New("timed out waiting for cycle state lock")
)

// Event is the part of a commit the store needs.
type Event struct {
	Branch     string
	Hash       string
	Phase      phase.Phase
	OccurredAt time.Time
}

// Observation reports what an event did to the branch's cycle.
type Observation struct {
	// Duration and CycleStart are set when a GREEN closes a cycle.
	Duration   *time.Duration
	CycleStart *time.Time

	// Abandoned is the pending RED timestamp a new RED replaced.
	Abandoned *time.Time

	// Orphan is set for a GREEN with nothing pending.
	Orphan bool

	// Negative is set when a GREEN predates its RED; the cycle is dropped.
	Negative bool

	// Duplicate is set when the hash was already observed on the branch.
	Duplicate bool
}

// BranchState is the persisted cycle state of one branch.
type BranchState struct {
	Branch         string     `json:"-"`
	PendingRedAt   *time.Time `json:"pending_red_at,omitempty"`
	PendingRedHash string     `json:"pending_red_hash,omitempty"`
	RecentHashes   []string   `json:"recent_hashes,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type stateFile struct {
	Version  int                     `json:"version"`
	Branches map[string]*BranchState `json:"branches"`
}

// Store persists cycle state under a directory.
type Store struct {
	dir         string
	lockTimeout time.Duration
	now         func() time.Time
	logger      *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long Observe waits for the lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithClock replaces the wall clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store rooted at dir. Nothing is touched on disk until
// the first call.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir:         dir,
		lockTimeout: 500 * time.Millisecond,
		now:         time.Now,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("cyclestate")
	return s
}

// DirFor returns the state directory for a git common directory.
func DirFor(gitCommonDir string) string {
	return filepath.Join(gitCommonDir, "cadence")
}

// Path returns the state file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFileName)
}

// Observe applies ev to its branch and returns the outcome.
//
// Only RED and GREEN affect cycle state; other phases return a zero
// Observation without touching disk.
func (s *Store) Observe(ctx context.Context, ev Event) (Observation, error) {
	var obs Observation
	if ev.Phase != phase.Red && ev.Phase != phase.Green {
		return obs, nil
	}

	err := s.withLock(ctx, true, func(state *stateFile) (bool, error) {
		bs := state.Branches[ev.Branch]
		if bs == nil {
			bs = &BranchState{}
			state.Branches[ev.Branch] = bs
		}

		if bs.seen(ev.Hash) {
			obs.Duplicate = true
			return false, nil
		}

		switch ev.Phase {
		case phase.Red:
			if bs.PendingRedAt != nil {
				abandoned := *bs.PendingRedAt
				obs.Abandoned = &abandoned
			}
			at := ev.OccurredAt
			bs.PendingRedAt = &at
			bs.PendingRedHash = ev.Hash

		case phase.Green:
			switch {
			case bs.PendingRedAt == nil:
				obs.Orphan = true
			case ev.OccurredAt.Before(*bs.PendingRedAt):
				obs.Negative = true
			default:
				d := ev.OccurredAt.Sub(*bs.PendingRedAt)
				start := *bs.PendingRedAt
				obs.Duration = &d
				obs.CycleStart = &start
			}
			bs.PendingRedAt = nil
			bs.PendingRedHash = ""
		}

		bs.remember(ev.Hash)
		bs.UpdatedAt = s.now().UTC()
		return true, nil
	})
	return obs, err
}

// Snapshot returns the state of every known branch, sorted by name.
func (s *Store) Snapshot(ctx context.Context) ([]BranchState, error) {
	var out []BranchState
	err := s.withLock(ctx, false, func(state *stateFile) (bool, error) {
		for name, bs := range state.Branches {
			cp := *bs
			cp.Branch = name
			cp.RecentHashes = append([]string(nil), bs.RecentHashes...)
			out = append(out, cp)
		}
		return false, nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Branch < out[j].Branch })
	return out, err
}

// withLock runs fn under the state lock and persists the state when fn
// reports a change. exclusive selects a write lock.
func (s *Store) withLock(ctx context.Context, exclusive bool, fn func(*stateFile) (bool, error)) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	lock := flock.New(filepath.Join(s.dir, lockFileName))

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var locked bool
	var err error
	if exclusive {
		locked, err = lock.TryLockContext(lockCtx, lockRetryDelay)
	} else {
		locked, err = lock.TryRLockContext(lockCtx, lockRetryDelay)
	}
	if err != nil || !locked {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("acquiring cycle state lock: %w", err)
		}
		return ErrLockTimeout
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn(ctx, "releasing cycle state lock failed", zap.Error(err))
		}
	}()

	state, err := s.load(ctx)
	if err != nil {
		return err
	}

	changed, err := fn(state)
	if err != nil || !changed {
		return err
	}
	return s.save(state)
}

// load reads the state file. A missing file is empty state; an unreadable
// one is moved aside and replaced by empty state.
func (s *Store) load(ctx context.Context) (*stateFile, error) {
	empty := &stateFile{Version: stateVersion, Branches: map[string]*BranchState{}}

	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cycle state: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		aside := s.Path() + ".corrupt"
		s.logger.Warn(ctx, "cycle state unreadable, starting fresh",
			zap.String("path", s.Path()),
			zap.String("moved_to", aside),
			zap.Error(err))
		if err := os.Rename(s.Path(), aside); err != nil {
			return nil, fmt.Errorf("moving corrupt cycle state aside: %w", err)
		}
		return empty, nil
	}
	if state.Branches == nil {
		state.Branches = map[string]*BranchState{}
	}
	return &state, nil
}

// save replaces the state file atomically.
func (s *Store) save(state *stateFile) error {
	state.Version = stateVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cycle state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, stateFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		cleanup()
		return fmt.Errorf("replacing cycle state: %w", err)
	}
	return nil
}

func (b *BranchState) seen(hash string) bool {
	if hash == "" {
		return false
	}
	for _, h := range b.RecentHashes {
		if h == hash {
			return true
		}
	}
	return false
}

func (b *BranchState) remember(hash string) {
	if hash == "" {
		return
	}
	b.RecentHashes = append(b.RecentHashes, hash)
	if n := len(b.RecentHashes); n > maxRecentHashes {
		b.RecentHashes = append([]string(nil), b.RecentHashes[n-maxRecentHashes:]...)
	}
}
