package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/config"
	"github.com/fyrsmithlabs/cadence/internal/cyclestate"
	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/gitevent"
	"github.com/fyrsmithlabs/cadence/internal/logging"
	"github.com/fyrsmithlabs/cadence/internal/pipeline"
	"github.com/fyrsmithlabs/cadence/internal/scrub"
	"github.com/fyrsmithlabs/cadence/internal/telemetry"
)

var (
	// hookRef records a commit other than HEAD
	hookRef string
)

func init() {
	rootCmd.AddCommand(postCommitCmd)

	postCommitCmd.Flags().StringVar(&hookRef, "ref", "", "commit to record instead of HEAD")
	_ = postCommitCmd.Flags().MarkHidden("ref")
}

// postCommitCmd records the commit that was just made
var postCommitCmd = &cobra.Command{
	Use:   "post-commit",
	Short: "Record the current commit (git hook entry point)",
	Long: `Record HEAD: classify its phase, update the branch's cycle state, append
a record to the event log and hand it to the remote publisher.

Every failure is reported on stderr and the command still exits 0, so a
commit is never blocked.`,
	Args: cobra.NoArgs,
	RunE: runPostCommit,
}

func runPostCommit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger := hookSetup(ctx)
	defer func() { _ = logger.Sync() }()

	res := newHook(cfg, logger, repoDir, hookRef).Run(ctx)
	logger.Debug(ctx, "post-commit finished",
		zap.String("final", string(res.Final())),
		zap.Int("warnings", len(res.Warnings)))
	return nil
}

// hookSetup loads configuration for the hook. A broken config file degrades
// to defaults with a warning instead of losing the commit.
func hookSetup(ctx context.Context) (*config.Config, *logging.Logger) {
	fallbackLogger, err := logging.NewLogger(logging.NewDefaultConfig())
	if err != nil {
		fallbackLogger = logging.Nop()
	}

	cfg, err := loadConfig()
	if err != nil {
		fallbackLogger.Warn(ctx, "configuration unusable, using defaults", zap.Error(err))
		cfg, err = config.Fallback()
		if err != nil {
			fallbackLogger.Warn(ctx, "no usable data directory", zap.Error(err))
			cfg = config.Default()
		}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fallbackLogger.Warn(ctx, "logging configuration unusable", zap.Error(err))
		return cfg, fallbackLogger
	}
	return cfg, logger
}

// hook is one post-commit invocation with its collaborators wired up.
type hook struct {
	pipeline *pipeline.Pipeline
	inline   *telemetry.InlineDispatcher
}

// newHook wires the pipeline from configuration.
func newHook(cfg *config.Config, logger *logging.Logger, dir, ref string) *hook {
	h := &hook{}

	opts := []pipeline.Option{
		pipeline.WithRef(ref),
		pipeline.WithLogger(logger),
		pipeline.OnProgress(stageTrace(logger)),
	}

	storeOpts := []cyclestate.Option{
		cyclestate.WithLockTimeout(cfg.Cycle.LockTimeout.Duration()),
		cyclestate.WithLogger(logger),
	}
	if cfg.Paths.StateDir != "" {
		opts = append(opts, pipeline.WithStore(cyclestate.NewStore(cfg.Paths.StateDir, storeOpts...)))
	} else {
		opts = append(opts, pipeline.WithStoreResolver(pipeline.DefaultStoreResolver(storeOpts...)))
	}

	if d := h.dispatcher(cfg, logger, dir); d != nil {
		opts = append(opts, pipeline.WithDispatcher(d))
	}

	h.pipeline = pipeline.New(
		gitevent.NewExtractor(dir, logger),
		eventlog.NewWriter(cfg.Paths.LogFile),
		opts...,
	)
	return h
}

// dispatcher picks how records reach the remote backend. It returns nil when
// publishing is off or the remote section cannot be used.
func (h *hook) dispatcher(cfg *config.Config, logger *logging.Logger, dir string) telemetry.Dispatcher {
	if !cfg.Remote.Enabled() {
		return nil
	}
	tcfg, err := telemetry.FromSettings(cfg.Remote, version)
	if err != nil {
		logger.Warn(context.Background(), "remote publishing disabled", zap.Error(err))
		return nil
	}

	if cfg.Remote.Detach {
		var args []string
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		return telemetry.NewDetachedDispatcher(tcfg,
			telemetry.WithArgs(args...),
			telemetry.WithDispatchLogger(logger))
	}

	h.inline = telemetry.NewInlineDispatcher(newPublisher(cfg, tcfg, logger, dir), logger)
	return h.inline
}

// Run records the commit and, for in-process publishing, waits for the
// publish to finish or hit remote.inline_timeout.
func (h *hook) Run(ctx context.Context) pipeline.Result {
	res := h.pipeline.Run(ctx)
	if h.inline != nil && res.Reached(pipeline.StageDispatch) {
		h.inline.Wait()
	}
	return res
}

// stageTrace logs each finished stage at debug level.
func stageTrace(logger *logging.Logger) pipeline.ProgressCallback {
	return func(p pipeline.StageProgress) {
		logger.Debug(context.Background(), "stage finished",
			zap.String("stage", string(p.Stage)),
			zap.String("status", string(p.Status)),
			zap.Int("step", p.Step),
			zap.Int("of", p.Total))
	}
}

// newPublisher builds a publisher whose messages are scrubbed against the
// allowlists of repo and the user.
func newPublisher(cfg *config.Config, tcfg *telemetry.Config, logger *logging.Logger, repo string) *telemetry.Publisher {
	scrubber := scrub.New(scrub.Options{
		RepoDir:       repo,
		UserAllowlist: cfg.Paths.AllowlistFile,
		Logger:        logger,
	})
	return telemetry.NewPublisher(tcfg,
		telemetry.WithLogger(logger),
		telemetry.WithTrail(telemetry.NewTrail(cfg.Paths.DiagnosticsFile)),
		telemetry.WithScrubber(scrubber),
	)
}
