// Package logging provides structured logging for cadence.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Context-aware methods that inject the invocation id and commit hash
//   - A quiet console core on stderr for hook warnings
//   - A JSON file core for the remote-publish diagnostic trail
//   - Field-name secret redaction
//
// # Usage
//
//	cfg, err := logging.FromSettings(settings.Logging)
//	logger, err := logging.NewLogger(cfg)
//	defer logger.Sync()
//
//	ctx = logging.WithInvocationID(ctx, id)
//	logger.Warn(ctx, "cycle state unavailable", zap.Error(err))
//
// Hooks run in the developer's terminal, so the default level is warn and
// nothing is printed on the happy path.
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Warn(ctx, "local log append failed")
//	tl.AssertLogged(t, zapcore.WarnLevel, "append failed")
package logging
