package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/cyclestate"
	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/gitevent"
	"github.com/fyrsmithlabs/cadence/internal/logging"
	"github.com/fyrsmithlabs/cadence/internal/phase"
	"github.com/fyrsmithlabs/cadence/internal/telemetry"
)

var (
	// ErrStagePanic wraps a panic recovered from a stage.
	ErrStagePanic = errors.New("stage panicked")

	// ErrNoStateDir indicates the commit carries no location for cycle state.
	ErrNoStateDir = errors.New("no cycle state directory for repository")
)

// Extractor reads the commit being recorded.
type Extractor interface {
	Extract(ctx context.Context, ref string) (*gitevent.CommitEvent, error)
}

// CycleStore pairs RED and GREEN commits.
type CycleStore interface {
	Observe(ctx context.Context, ev cyclestate.Event) (cyclestate.Observation, error)
}

// StoreResolver returns the cycle store for a repository's git common dir.
type StoreResolver func(gitCommonDir string) (CycleStore, error)

// Appender durably appends a record.
type Appender interface {
	Append(rec eventlog.Record) error
}

// Classifier assigns a phase from a message and the changed paths.
type Classifier func(message string, paths []string) phase.Phase

// Pipeline runs one commit through extraction, classification, cycle
// accounting, logging and remote dispatch.
type Pipeline struct {
	extractor  Extractor
	appender   Appender
	resolve    StoreResolver
	classify   Classifier
	dispatcher telemetry.Dispatcher
	logger     *logging.Logger
	now        func() time.Time
	newID      func() string
	ref        string
	progress   ProgressCallback
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRef records ref instead of HEAD.
func WithRef(ref string) Option {
	return func(p *Pipeline) { p.ref = ref }
}

// WithStoreResolver sets how the cycle store is located.
func WithStoreResolver(r StoreResolver) Option {
	return func(p *Pipeline) { p.resolve = r }
}

// WithStore uses one store for every repository.
func WithStore(s CycleStore) Option {
	return func(p *Pipeline) {
		p.resolve = func(string) (CycleStore, error) { return s, nil }
	}
}

// WithClassifier replaces the phase classifier.
func WithClassifier(c Classifier) Option {
	return func(p *Pipeline) { p.classify = c }
}

// WithDispatcher hands records to the remote publisher. Without one the
// DISPATCH_REMOTE stage is skipped.
func WithDispatcher(d telemetry.Dispatcher) Option {
	return func(p *Pipeline) { p.dispatcher = d }
}

// WithLogger sets the logger that receives stage warnings.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator replaces the invocation id generator.
func WithIDGenerator(gen func() string) Option {
	return func(p *Pipeline) { p.newID = gen }
}

// OnProgress sets the progress callback
func OnProgress(cb ProgressCallback) Option {
	return func(p *Pipeline) { p.progress = cb }
}

// DefaultStoreResolver keeps cycle state in <git-common-dir>/cadence.
func DefaultStoreResolver(opts ...cyclestate.Option) StoreResolver {
	return func(commonDir string) (CycleStore, error) {
		if commonDir == "" {
			return nil, ErrNoStateDir
		}
		return cyclestate.NewStore(cyclestate.DirFor(commonDir), opts...), nil
	}
}

// New creates a pipeline that reads commits with extractor and appends
// records with appender.
func New(extractor Extractor, appender Appender, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: extractor,
		appender:  appender,
		resolve:   DefaultStoreResolver(),
		classify:  phase.ClassifyCommit,
		logger:    logging.Nop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")
	return p
}

// run carries the state of one invocation between stages.
type run struct {
	result Result
	event  *gitevent.CommitEvent
	record eventlog.Record
}

// Run records the commit. It always reaches DONE and never fails.
func (p *Pipeline) Run(ctx context.Context) Result {
	r := &run{}
	r.result.InvocationID = p.newID()
	ctx = logging.WithInvocationID(ctx, r.result.InvocationID)

	p.stage(ctx, r, StageStart, func(context.Context) (StageStatus, error) {
		return StatusCompleted, nil
	})

	status := p.stage(ctx, r, StageExtract, p.extract(r))
	if status != StatusCompleted {
		p.finish(ctx, r)
		return r.result
	}
	ctx = logging.WithCommit(ctx, r.event.Hash)

	p.stage(ctx, r, StageClassify, p.classifyStage(r))
	p.stage(ctx, r, StageCycleUpdate, p.cycleUpdate(r))
	p.stage(ctx, r, StageLog, p.log(r))
	p.stage(ctx, r, StageDispatch, p.dispatch(r))

	p.finish(ctx, r)
	return r.result
}

func (p *Pipeline) extract(r *run) stageFunc {
	return func(ctx context.Context) (StageStatus, error) {
		event, err := p.extractor.Extract(ctx, p.ref)
		if err != nil {
			return StatusFailed, err
		}
		if event == nil {
			return StatusFailed, gitevent.ErrNoCommit
		}
		r.event = event
		return StatusCompleted, nil
	}
}

func (p *Pipeline) classifyStage(r *run) stageFunc {
	return func(context.Context) (StageStatus, error) {
		r.event.Phase = p.classify(r.event.Message, r.event.Paths)
		return StatusCompleted, nil
	}
}

// cycleUpdate applies the commit to its branch's cycle state. Phases other
// than RED and GREEN never touch the store.
func (p *Pipeline) cycleUpdate(r *run) stageFunc {
	return func(ctx context.Context) (StageStatus, error) {
		ev := r.event
		if ev.Phase != phase.Red && ev.Phase != phase.Green {
			return StatusSkipped, nil
		}

		observed := false
		defer func() {
			if !observed {
				ev.AddAnomaly(eventlog.AnomalyCycleStateUnavailable)
			}
		}()

		store, err := p.resolve(ev.GitCommonDir)
		if err != nil {
			return StatusFailed, err
		}

		obs, err := store.Observe(ctx, cyclestate.Event{
			Branch:     ev.Branch,
			Hash:       ev.Hash,
			Phase:      ev.Phase,
			OccurredAt: ev.OccurredAt,
		})
		if err != nil {
			return StatusFailed, err
		}
		observed = true

		applyObservation(ev, obs)
		return StatusCompleted, nil
	}
}

func applyObservation(ev *gitevent.CommitEvent, obs cyclestate.Observation) {
	if obs.Duplicate {
		ev.Duplicate = true
		return
	}
	if obs.Duration != nil && obs.CycleStart != nil {
		ev.CycleDuration = obs.Duration
		ev.CycleStart = obs.CycleStart
	}
	if obs.Abandoned != nil {
		ev.AddAnomaly(eventlog.AnomalyRedOverwritten)
	}
	if obs.Orphan {
		ev.AddAnomaly(eventlog.AnomalyOrphanGreen)
	}
	if obs.Negative {
		ev.AddAnomaly(eventlog.AnomalyNegativeCycle)
	}
}

func (p *Pipeline) log(r *run) stageFunc {
	return func(context.Context) (StageStatus, error) {
		r.record = r.event.Record(r.result.InvocationID, p.now())
		rec := r.record
		r.result.Record = &rec
		if err := p.appender.Append(r.record); err != nil {
			return StatusFailed, err
		}
		return StatusCompleted, nil
	}
}

// dispatch hands the record to the remote publisher. A record that never
// reached the log is still dispatched.
func (p *Pipeline) dispatch(r *run) stageFunc {
	return func(ctx context.Context) (StageStatus, error) {
		if p.dispatcher == nil {
			return StatusSkipped, nil
		}
		if r.result.Record == nil {
			r.record = r.event.Record(r.result.InvocationID, p.now())
		}
		err := p.dispatcher.Dispatch(ctx, r.record)
		if errors.Is(err, telemetry.ErrDisabled) {
			return StatusSkipped, nil
		}
		if err != nil {
			return StatusFailed, err
		}
		return StatusCompleted, nil
	}
}

func (p *Pipeline) finish(ctx context.Context, r *run) {
	p.stage(ctx, r, StageDone, func(context.Context) (StageStatus, error) {
		return StatusCompleted, nil
	})
}

type stageFunc func(ctx context.Context) (StageStatus, error)

// stage runs fn, recording its outcome and converting failures into
// warnings.
func (p *Pipeline) stage(ctx context.Context, r *run, stage Stage, fn stageFunc) StageStatus {
	ctx = logging.WithStage(ctx, string(stage))
	started := p.now()

	status, err := safeCall(ctx, fn)
	if err != nil {
		status = StatusFailed
	}

	sr := StageResult{
		Stage:       stage,
		Status:      status,
		StartedAt:   started,
		CompletedAt: p.now(),
	}
	if err != nil {
		sr.Error = err.Error()
		r.result.Warnings = append(r.result.Warnings, fmt.Sprintf("%s: %v", stage, err))
		p.warn(ctx, stage, err)
	}
	r.result.Stages = append(r.result.Stages, sr)

	if p.progress != nil {
		p.progress(StageProgress{
			Stage:  stage,
			Status: status,
			Err:    err,
			Step:   stepOf(stage),
			Total:  len(AllStages()),
		})
	}
	return status
}

// warn logs a stage failure. ctx carries the stage name. Lock contention is
// expected under concurrent worktrees and is only a notice.
func (p *Pipeline) warn(ctx context.Context, stage Stage, err error) {
	switch {
	case errors.Is(err, cyclestate.ErrLockTimeout):
		p.logger.Info(ctx, "cycle state busy, recording without cycle duration", zap.Error(err))
	case stage == StageExtract:
		p.logger.Warn(ctx, "no commit recorded", zap.Error(err))
	default:
		p.logger.Warn(ctx, "stage failed", zap.Error(err))
	}
}

func safeCall(ctx context.Context, fn stageFunc) (status StageStatus, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			status = StatusFailed
			err = fmt.Errorf("%w: %v", ErrStagePanic, rec)
		}
	}()
	return fn(ctx)
}
