// internal/logging/context.go
package logging

import (
	"context"

	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)

	if id := InvocationIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("invocation.id", id))
	}

	if hash := CommitFromContext(ctx); hash != "" {
		fields = append(fields, zap.String("commit.hash", hash))
	}

	if stage := StageFromContext(ctx); stage != "" {
		fields = append(fields, zap.String("stage", stage))
	}

	return fields
}

// Context key types
type invocationCtxKey struct{}
type commitCtxKey struct{}
type stageCtxKey struct{}
type loggerCtxKey struct{}

// WithInvocationID tags the context with the id of one hook invocation.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationCtxKey{}, id)
}

// InvocationIDFromContext extracts the invocation id from context.
func InvocationIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(invocationCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithCommit tags the context with the commit being processed.
func WithCommit(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, commitCtxKey{}, hash)
}

// CommitFromContext extracts the commit hash from context.
func CommitFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(commitCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithStage tags the context with the current pipeline stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// StageFromContext extracts the pipeline stage from context.
func StageFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(stageCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
