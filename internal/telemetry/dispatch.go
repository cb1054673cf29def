package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/logging"
)

// maxPayloadSize bounds a record handed to the publish command.
const maxPayloadSize = 1 << 20

// Dispatcher hands a record to the publisher without waiting for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec eventlog.Record) error
}

// DetachedDispatcher publishes from a separate process that outlives the hook.
//
// The record is written to a private temp file and the child is started as
// "<executable> [args...] publish --record-file <file>" in its own session,
// with no terminal attached. The child deletes the file after reading it.
type DetachedDispatcher struct {
	cfg        *Config
	executable string
	args       []string
	tempDir    string
	logger     *logging.Logger
}

// DetachedOption configures a DetachedDispatcher.
type DetachedOption func(*DetachedDispatcher)

// WithExecutable sets the binary to run. Defaults to the current executable.
func WithExecutable(path string) DetachedOption {
	return func(d *DetachedDispatcher) { d.executable = path }
}

// WithArgs sets arguments placed before the publish subcommand.
func WithArgs(args ...string) DetachedOption {
	return func(d *DetachedDispatcher) { d.args = args }
}

// WithTempDir sets where payload files are written.
func WithTempDir(dir string) DetachedOption {
	return func(d *DetachedDispatcher) { d.tempDir = dir }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *logging.Logger) DetachedOption {
	return func(d *DetachedDispatcher) { d.logger = l }
}

// NewDetachedDispatcher creates a dispatcher that spawns the publish command.
func NewDetachedDispatcher(cfg *Config, opts ...DetachedOption) *DetachedDispatcher {
	d := &DetachedDispatcher{cfg: cfg, logger: logging.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch starts the publish process and returns once it is running.
func (d *DetachedDispatcher) Dispatch(ctx context.Context, rec eventlog.Record) error {
	if !d.cfg.Enabled() {
		return ErrDisabled
	}

	exe := d.executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locating executable: %w", err)
		}
		exe = self
	}

	payload, err := writePayload(d.tempDir, rec)
	if err != nil {
		return err
	}

	args := append(append([]string(nil), d.args...), "publish", "--record-file", payload)
	// Not CommandContext: the child must survive this process.
	cmd := exec.Command(exe, args...)
	cmd.Env = os.Environ()
	detach(cmd)

	if err := cmd.Start(); err != nil {
		_ = os.Remove(payload)
		return fmt.Errorf("starting publish process: %w", err)
	}

	d.logger.Debug(ctx, "publish process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("commit", rec.CommitHash))

	if err := cmd.Process.Release(); err != nil {
		d.logger.Debug(ctx, "releasing publish process failed", zap.Error(err))
	}
	return nil
}

// InlineDispatcher publishes from a goroutine in the current process.
//
// Used where spawning a process is not possible. Callers that are about to
// exit should call Wait, which returns once every dispatched publish has
// finished or hit the inline timeout.
type InlineDispatcher struct {
	publisher *Publisher
	logger    *logging.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewInlineDispatcher creates an in-process dispatcher. Each publish is cut
// off after the publisher's InlineTimeout.
func NewInlineDispatcher(p *Publisher, logger *logging.Logger) *InlineDispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := NewDefaultConfig().InlineTimeout
	if p != nil && p.cfg != nil && p.cfg.InlineTimeout > 0 {
		timeout = p.cfg.InlineTimeout
	}
	return &InlineDispatcher{publisher: p, logger: logger, timeout: timeout}
}

// Dispatch starts the publish and returns immediately.
func (d *InlineDispatcher) Dispatch(ctx context.Context, rec eventlog.Record) error {
	if !d.publisher.Enabled() {
		return ErrDisabled
	}

	// Detached from the caller's cancellation, bounded by the inline timeout.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Warn(pctx, "publish panicked", zap.Any("panic", r))
			}
		}()
		if err := d.publisher.Publish(pctx, rec); err != nil {
			d.logger.Debug(pctx, "inline publish failed", zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until all dispatched publishes have returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// writePayload stores rec in a new private temp file and returns its path.
func writePayload(dir string, rec eventlog.Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding publish payload: %w", err)
	}

	f, err := os.CreateTemp(dir, "cadence-publish-*.json")
	if err != nil {
		return "", fmt.Errorf("creating publish payload: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing publish payload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("closing publish payload: %w", err)
	}
	return f.Name(), nil
}

// ReadPayloadFile reads a record written by DetachedDispatcher and deletes
// the file.
func ReadPayloadFile(path string) (eventlog.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return eventlog.Record{}, fmt.Errorf("opening publish payload: %w", err)
	}
	rec, err := DecodePayload(f)
	_ = f.Close()
	_ = os.Remove(path)
	return rec, err
}

// DecodePayload reads one JSON record from r.
func DecodePayload(r io.Reader) (eventlog.Record, error) {
	var rec eventlog.Record
	data, err := io.ReadAll(io.LimitReader(r, maxPayloadSize+1))
	if err != nil {
		return rec, fmt.Errorf("reading publish payload: %w", err)
	}
	if len(data) > maxPayloadSize {
		return rec, fmt.Errorf("publish payload too large: exceeds %d bytes", maxPayloadSize)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decoding publish payload: %w", err)
	}
	if rec.CommitHash == "" {
		return rec, fmt.Errorf("decoding publish payload: missing commit_hash")
	}
	return rec, nil
}
