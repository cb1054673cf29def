package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
)

// Stage is one step of a pipeline run.
type Stage string

const (
	StageStart       Stage = "START"
	StageExtract     Stage = "EXTRACT"
	StageClassify    Stage = "CLASSIFY"
	StageCycleUpdate Stage = "CYCLE_UPDATE"
	StageLog         Stage = "LOG"
	StageDispatch    Stage = "DISPATCH_REMOTE"
	StageDone        Stage = "DONE"
)

// AllStages returns all stages in execution order
func AllStages() []Stage {
	return []Stage{StageStart, StageExtract, StageClassify, StageCycleUpdate, StageLog, StageDispatch, StageDone}
}

// StageStatus is the outcome of a stage.
type StageStatus string

const (
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// StageResult captures the outcome of one stage.
type StageResult struct {
	Stage       Stage       `json:"stage"`
	Status      StageStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Error       string      `json:"error,omitempty"`
}

// Result describes a finished run. A run always ends at DONE.
type Result struct {
	InvocationID string           `json:"invocation_id"`
	Stages       []StageResult    `json:"stages"`
	Warnings     []string         `json:"warnings,omitempty"`
	Record       *eventlog.Record `json:"record,omitempty"`
}

// Reached reports whether the run entered stage.
func (r *Result) Reached(stage Stage) bool {
	_, ok := r.find(stage)
	return ok
}

// Status returns the status of stage, or "" when it was never entered.
func (r *Result) Status(stage Stage) StageStatus {
	sr, _ := r.find(stage)
	return sr.Status
}

// Final returns the last stage entered.
func (r *Result) Final() Stage {
	if len(r.Stages) == 0 {
		return ""
	}
	return r.Stages[len(r.Stages)-1].Stage
}

func (r *Result) find(stage Stage) (StageResult, bool) {
	for _, sr := range r.Stages {
		if sr.Stage == stage {
			return sr, true
		}
	}
	return StageResult{}, false
}

// StageProgress is reported as each stage finishes.
type StageProgress struct {
	Stage  Stage
	Status StageStatus
	Err    error

	// Step is the 1-based position of Stage in AllStages, out of Total.
	Step  int
	Total int
}

func stepOf(stage Stage) int {
	for i, s := range AllStages() {
		if s == stage {
			return i + 1
		}
	}
	return 0
}

// ProgressCallback receives progress updates during a run
type ProgressCallback func(StageProgress)
