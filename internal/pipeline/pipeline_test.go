package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/cadence/internal/cyclestate"
	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/gitevent"
	"github.com/fyrsmithlabs/cadence/internal/logging"
	"github.com/fyrsmithlabs/cadence/internal/phase"
	"github.com/fyrsmithlabs/cadence/internal/telemetry"
)

var now = time.Date(2026, 3, 1, 10, 6, 0, 0, time.UTC)

type fakeExtractor struct {
	event *gitevent.CommitEvent
	err   error
	panic bool
	ref   string
}

func (f *fakeExtractor) Extract(_ context.Context, ref string) (*gitevent.CommitEvent, error) {
	f.ref = ref
	if f.panic {
		panic("object database exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	ev := *f.event
	return &ev, nil
}

type fakeStore struct {
	obs    cyclestate.Observation
	err    error
	panic  bool
	events []cyclestate.Event
}

func (f *fakeStore) Observe(_ context.Context, ev cyclestate.Event) (cyclestate.Observation, error) {
	f.events = append(f.events, ev)
	if f.panic {
		panic("state file exploded")
	}
	return f.obs, f.err
}

type fakeAppender struct {
	records []eventlog.Record
	err     error
	panic   bool
}

func (f *fakeAppender) Append(rec eventlog.Record) error {
	if f.panic {
		panic("disk exploded")
	}
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	records []eventlog.Record
	err     error
	panic   bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, rec eventlog.Record) error {
	if f.panic {
		panic("network exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

func commitEvent(msg string) *gitevent.CommitEvent {
	return &gitevent.CommitEvent{
		Hash:         "abc123",
		Branch:       "main",
		Message:      msg,
		FilesChanged: 1,
		LinesAdded:   10,
		Paths:        []string{"email.go"},
		OccurredAt:   now,
		Repository:   "/src/app",
		GitCommonDir: "/src/app/.git",
	}
}

type harness struct {
	extractor  *fakeExtractor
	store      *fakeStore
	appender   *fakeAppender
	dispatcher *fakeDispatcher
	logger     *logging.TestLogger
}

func newHarness(msg string) *harness {
	return &harness{
		extractor:  &fakeExtractor{event: commitEvent(msg)},
		store:      &fakeStore{},
		appender:   &fakeAppender{},
		dispatcher: &fakeDispatcher{},
		logger:     logging.NewTestLogger(),
	}
}

func (h *harness) pipeline(opts ...Option) *Pipeline {
	base := []Option{
		WithStore(h.store),
		WithDispatcher(h.dispatcher),
		WithLogger(h.logger.Logger),
		WithClock(func() time.Time { return now.Add(time.Second) }),
		WithIDGenerator(func() string { return "inv-1" }),
	}
	return New(h.extractor, h.appender, append(base, opts...)...)
}

func stageStatuses(res Result) map[Stage]StageStatus {
	out := map[Stage]StageStatus{}
	for _, sr := range res.Stages {
		out[sr.Stage] = sr.Status
	}
	return out
}

func TestRun_GreenClosesCycle(t *testing.T) {
	h := newHarness("feat: implement Email validation")
	d := 6 * time.Minute
	start := now.Add(-d)
	h.store.obs = cyclestate.Observation{Duration: &d, CycleStart: &start}

	res := h.pipeline().Run(context.Background())

	var stages []Stage
	for _, sr := range res.Stages {
		stages = append(stages, sr.Stage)
		assert.Equal(t, StatusCompleted, sr.Status, "stage %s", sr.Stage)
	}
	assert.Equal(t, AllStages(), stages)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, StageDone, res.Final())
	assert.Equal(t, "inv-1", res.InvocationID)

	require.Len(t, h.store.events, 1)
	assert.Equal(t, cyclestate.Event{Branch: "main", Hash: "abc123", Phase: phase.Green, OccurredAt: now}, h.store.events[0])

	require.Len(t, h.appender.records, 1)
	rec := h.appender.records[0]
	assert.Equal(t, phase.Green, rec.Phase)
	assert.Equal(t, "inv-1", rec.InvocationID)
	assert.Equal(t, now.Add(time.Second), rec.RecordedAt)
	got, ok := rec.CycleDuration()
	require.True(t, ok)
	assert.Equal(t, 6*time.Minute, got)
	assert.Equal(t, start, *rec.CycleStartedAt)

	require.Len(t, h.dispatcher.records, 1)
	assert.Equal(t, rec, h.dispatcher.records[0])
	require.NotNil(t, res.Record)
	assert.Equal(t, rec, *res.Record)
}

func TestRun_NonCyclePhasesSkipStore(t *testing.T) {
	tests := []struct {
		message string
		want    phase.Phase
	}{
		{"wip: quick experiment", phase.Other},
		{"refactor: extract validator", phase.Refactor},
		{"docs: readme", phase.Other},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			h := newHarness(tt.message)
			res := h.pipeline().Run(context.Background())

			assert.Empty(t, h.store.events, "store untouched")
			assert.Equal(t, StatusSkipped, res.Status(StageCycleUpdate))
			require.Len(t, h.appender.records, 1)
			assert.Equal(t, tt.want, h.appender.records[0].Phase)
			assert.Nil(t, h.appender.records[0].CycleDurationSeconds)
		})
	}
}

func TestRun_ClassifyUsesChangedPaths(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  phase.Phase
	}{
		{name: "test support only", paths: []string{"internal/x/helpers_test.go", "testdata/a.json"}, want: phase.Tidy},
		{name: "touches production code", paths: []string{"internal/x/x.go"}, want: phase.Red},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness("test(tidy): rename helpers")
			h.extractor.event.Paths = tt.paths

			h.pipeline().Run(context.Background())
			require.Len(t, h.appender.records, 1)
			assert.Equal(t, tt.want, h.appender.records[0].Phase)
		})
	}
}

func TestRun_ObservationAnomalies(t *testing.T) {
	abandoned := now.Add(-time.Hour)

	tests := []struct {
		name          string
		message       string
		obs           cyclestate.Observation
		wantAnomalies []eventlog.Anomaly
		wantDuplicate bool
	}{
		{name: "red overwritten", message: "test: again", obs: cyclestate.Observation{Abandoned: &abandoned}, wantAnomalies: []eventlog.Anomaly{eventlog.AnomalyRedOverwritten}},
		{name: "orphan green", message: "feat: x", obs: cyclestate.Observation{Orphan: true}, wantAnomalies: []eventlog.Anomaly{eventlog.AnomalyOrphanGreen}},
		{name: "negative cycle", message: "feat: x", obs: cyclestate.Observation{Negative: true}, wantAnomalies: []eventlog.Anomaly{eventlog.AnomalyNegativeCycle}},
		{name: "duplicate", message: "feat: x", obs: cyclestate.Observation{Duplicate: true}, wantDuplicate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.message)
			h.store.obs = tt.obs

			res := h.pipeline().Run(context.Background())
			assert.Empty(t, res.Warnings)
			require.Len(t, h.appender.records, 1)
			rec := h.appender.records[0]
			assert.Equal(t, tt.wantAnomalies, rec.Anomalies)
			assert.Equal(t, tt.wantDuplicate, rec.Duplicate)
			assert.Nil(t, rec.CycleDurationSeconds)
		})
	}
}

func TestRun_PassesRef(t *testing.T) {
	h := newHarness("feat: x")
	h.pipeline(WithRef("HEAD~1")).Run(context.Background())
	assert.Equal(t, "HEAD~1", h.extractor.ref)
}

// Each fault must leave the run at DONE with the remaining stages attempted.
func TestRun_FaultInjection(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		inject     func(h *harness)
		failed     Stage
		wantLogged bool
		wantSent   bool
		anomaly    eventlog.Anomaly
	}{
		{
			name:   "extract error",
			inject: func(h *harness) { h.extractor.err = gitevent.ErrNoCommit },
			failed: StageExtract,
		},
		{
			name:   "extract panic",
			inject: func(h *harness) { h.extractor.panic = true },
			failed: StageExtract,
		},
		{
			name:       "classifier panic",
			inject:     func(*harness) {},
			failed:     StageClassify,
			wantLogged: true,
			wantSent:   true,
		},
		{
			name:       "cycle store error",
			message:    "feat: x",
			inject:     func(h *harness) { h.store.err = errors.New("permission denied") },
			failed:     StageCycleUpdate,
			wantLogged: true,
			wantSent:   true,
			anomaly:    eventlog.AnomalyCycleStateUnavailable,
		},
		{
			name:       "cycle store lock timeout",
			message:    "test: x",
			inject:     func(h *harness) { h.store.err = cyclestate.ErrLockTimeout },
			failed:     StageCycleUpdate,
			wantLogged: true,
			wantSent:   true,
			anomaly:    eventlog.AnomalyCycleStateUnavailable,
		},
		{
			name:       "cycle store panic",
			message:    "feat: x",
			inject:     func(h *harness) { h.store.panic = true },
			failed:     StageCycleUpdate,
			wantLogged: true,
			wantSent:   true,
			anomaly:    eventlog.AnomalyCycleStateUnavailable,
		},
		{
			name:     "log write error",
			inject:   func(h *harness) { h.appender.err = errors.New("no space left on device") },
			failed:   StageLog,
			wantSent: true,
		},
		{
			name:     "log write panic",
			inject:   func(h *harness) { h.appender.panic = true },
			failed:   StageLog,
			wantSent: true,
		},
		{
			name:       "dispatch error",
			inject:     func(h *harness) { h.dispatcher.err = errors.New("fork failed") },
			failed:     StageDispatch,
			wantLogged: true,
			wantSent:   true,
		},
		{
			name:       "dispatch panic",
			inject:     func(h *harness) { h.dispatcher.panic = true },
			failed:     StageDispatch,
			wantLogged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.message
			if msg == "" {
				msg = "feat: x"
			}
			h := newHarness(msg)
			tt.inject(h)

			var opts []Option
			if tt.failed == StageClassify {
				opts = append(opts, WithClassifier(func(string, []string) phase.Phase { panic("bad rule") }))
			}

			var res Result
			require.NotPanics(t, func() {
				res = h.pipeline(opts...).Run(context.Background())
			})

			assert.Equal(t, StageDone, res.Final())
			assert.Equal(t, StatusCompleted, res.Status(StageDone))
			assert.Equal(t, StatusFailed, res.Status(tt.failed))
			require.Len(t, res.Warnings, 1)
			assert.Contains(t, res.Warnings[0], string(tt.failed))

			if tt.failed == StageExtract {
				assert.False(t, res.Reached(StageClassify))
				assert.Empty(t, h.appender.records)
				assert.Empty(t, h.dispatcher.records)
				assert.Nil(t, res.Record)
				return
			}

			for _, s := range []Stage{StageClassify, StageCycleUpdate, StageLog, StageDispatch} {
				assert.True(t, res.Reached(s), "stage %s attempted", s)
			}
			assert.Equal(t, tt.wantLogged, len(h.appender.records) == 1)
			assert.Equal(t, tt.wantSent, len(h.dispatcher.records) == 1)
			if tt.anomaly != "" {
				require.NotNil(t, res.Record)
				assert.True(t, res.Record.HasAnomaly(tt.anomaly))
			}
		})
	}
}

func TestRun_LogsWarnings(t *testing.T) {
	h := newHarness("feat: x")
	h.appender.err = errors.New("no space left on device")

	h.pipeline().Run(context.Background())

	h.logger.AssertLogged(t, zapcore.WarnLevel, "stage failed")
	h.logger.AssertField(t, "stage failed", "stage", "LOG")
}

func TestRun_LockTimeoutIsNotice(t *testing.T) {
	h := newHarness("feat: x")
	h.store.err = cyclestate.ErrLockTimeout

	h.pipeline().Run(context.Background())

	h.logger.AssertLogged(t, zapcore.InfoLevel, "cycle state busy")
	h.logger.AssertNotLogged(t, zapcore.WarnLevel, "stage failed")
}

func TestRun_DisabledRemoteIsSilent(t *testing.T) {
	h := newHarness("feat: x")
	h.dispatcher.err = telemetry.ErrDisabled

	res := h.pipeline().Run(context.Background())

	assert.Equal(t, StatusSkipped, res.Status(StageDispatch))
	assert.Empty(t, res.Warnings)
	assert.Empty(t, h.logger.All())
}

func TestRun_NoDispatcher(t *testing.T) {
	h := newHarness("feat: x")
	p := New(h.extractor, h.appender, WithStore(h.store), WithIDGenerator(func() string { return "id" }))

	res := p.Run(context.Background())
	assert.Equal(t, StatusSkipped, res.Status(StageDispatch))
	assert.Len(t, h.appender.records, 1)
}

func TestRun_Progress(t *testing.T) {
	h := newHarness("feat: x")
	var seen []Stage
	var steps []int
	h.pipeline(OnProgress(func(p StageProgress) {
		seen = append(seen, p.Stage)
		steps = append(steps, p.Step)
		assert.Equal(t, 7, p.Total)
	})).Run(context.Background())
	assert.Equal(t, AllStages(), seen)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, steps)
}

func TestRun_DefaultIDIsUUID(t *testing.T) {
	h := newHarness("docs: x")
	res := New(h.extractor, h.appender).Run(context.Background())
	assert.Len(t, res.InvocationID, 36)
}

func TestDefaultStoreResolver(t *testing.T) {
	resolve := DefaultStoreResolver()

	_, err := resolve("")
	assert.ErrorIs(t, err, ErrNoStateDir)

	commonDir := t.TempDir()
	store, err := resolve(commonDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(commonDir, "cadence", "cycle-state.json"), store.(*cyclestate.Store).Path())
}

func TestResult_Accessors(t *testing.T) {
	var empty Result
	assert.Equal(t, Stage(""), empty.Final())
	assert.False(t, empty.Reached(StageStart))
	assert.Equal(t, StageStatus(""), empty.Status(StageStart))
}
