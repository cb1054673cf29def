// Package pipeline runs the post-commit telemetry pipeline.
//
// One invocation walks a fixed sequence of stages:
//
//	START → EXTRACT → CLASSIFY → CYCLE_UPDATE → LOG → DISPATCH_REMOTE → DONE
//
// Each stage returns its own error, which the pipeline records as a warning
// before moving on. A panic inside a stage is recovered and treated the same
// way. Only a failed EXTRACT ends the run early, because without a commit
// there is nothing to record. Run never returns an error: the commit that
// triggered it must not be affected by anything that happens here.
package pipeline
