package telemetry

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/logging"
)

// Trail is the diagnostic file that records failed deliveries.
//
// It is the only place a publish failure is ever reported: the detached
// publisher has no terminal, and the commit has long since completed.
type Trail struct {
	path string
}

// NewTrail creates a trail writing to path. An empty path disables it.
func NewTrail(path string) *Trail {
	return &Trail{path: path}
}

// Path returns the trail location.
func (t *Trail) Path() string {
	if t == nil {
		return ""
	}
	return t.path
}

// Record appends one entry describing a failed delivery of rec.
//
// The file is opened only when there is something to write, so a healthy
// backend never creates it. Errors writing the trail are swallowed.
func (t *Trail) Record(ctx context.Context, rec eventlog.Record, attempts int, cause error) {
	if t == nil || t.path == "" {
		return
	}

	logger, closer, err := logging.NewFileLogger(t.path, zapcore.InfoLevel)
	if err != nil {
		return
	}
	defer closer.Close()

	logger.Error(ctx, "remote publish failed",
		zap.String("commit_hash", rec.CommitHash),
		zap.String("branch", rec.Branch),
		zap.String("phase", rec.Phase.String()),
		zap.String("invocation_id", rec.InvocationID),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	_ = logger.Sync()
}
