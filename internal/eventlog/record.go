// Package eventlog is the local system of record for commit telemetry.
//
// Records are newline-delimited JSON objects appended to a single file. The
// file is only ever appended to: it is never truncated, rewritten or
// compacted by cadence, and external tooling can read it line by line.
package eventlog

import (
	"time"

	"github.com/fyrsmithlabs/cadence/internal/phase"
)

// SchemaVersion is written into every record.
const SchemaVersion = 1

// Anomaly names a sequence or data-quality irregularity attached to a record.
type Anomaly string

const (
	// AnomalyRedOverwritten marks a RED that replaced an unpaired earlier RED.
	AnomalyRedOverwritten Anomaly = "red_overwritten"

	// AnomalyOrphanGreen marks a GREEN with no pending RED on its branch.
	AnomalyOrphanGreen Anomaly = "orphan_green"

	// AnomalyNegativeCycle marks a GREEN timestamped before its RED.
	AnomalyNegativeCycle Anomaly = "negative_cycle"

	// AnomalyCycleStateUnavailable marks a RED/GREEN whose cycle accounting
	// was skipped because the state store could not be used.
	AnomalyCycleStateUnavailable Anomaly = "cycle_state_unavailable"

	// AnomalyStatsUnavailable marks a commit whose diff statistics could not
	// be computed.
	AnomalyStatsUnavailable Anomaly = "stats_unavailable"

	// AnomalyBranchUnknown marks a commit whose branch could not be resolved.
	AnomalyBranchUnknown Anomaly = "branch_unknown"
)

// Record is one line of the event log.
type Record struct {
	Schema       int       `json:"schema"`
	InvocationID string    `json:"invocation_id,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
	Repository   string    `json:"repository,omitempty"`

	CommitHash   string      `json:"commit_hash"`
	Branch       string      `json:"branch"`
	Message      string      `json:"message"`
	Phase        phase.Phase `json:"phase"`
	Author       string      `json:"author,omitempty"`
	FilesChanged int         `json:"files_changed"`
	LinesAdded   int         `json:"lines_added"`
	LinesRemoved int         `json:"lines_removed"`
	OccurredAt   time.Time   `json:"occurred_at"`

	CycleStartedAt       *time.Time `json:"cycle_started_at,omitempty"`
	CycleDurationSeconds *float64   `json:"cycle_duration_seconds,omitempty"`

	Anomalies []Anomaly `json:"anomalies,omitempty"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// CycleDuration returns the cycle duration, if the record closes a cycle.
func (r *Record) CycleDuration() (time.Duration, bool) {
	if r.CycleDurationSeconds == nil {
		return 0, false
	}
	return time.Duration(*r.CycleDurationSeconds * float64(time.Second)), true
}

// SetCycle records a completed cycle that started at start.
func (r *Record) SetCycle(start time.Time, d time.Duration) {
	s := d.Seconds()
	r.CycleStartedAt = &start
	r.CycleDurationSeconds = &s
}

// HasAnomaly reports whether the record carries a.
func (r *Record) HasAnomaly(a Anomaly) bool {
	for _, x := range r.Anomalies {
		if x == a {
			return true
		}
	}
	return false
}
