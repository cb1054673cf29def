// Package telemetry publishes commit records to an OpenTelemetry backend.
//
// # Overview
//
// Every record becomes one span named "cadence.commit" exported over OTLP
// (HTTP/protobuf by default, gRPC optionally). With metrics enabled the same
// record also increments the "cadence.commits" counter and, for a completed
// cycle, records into the "cadence.cycle.duration" histogram.
//
// Publishing is strictly best effort. It never runs on the commit's critical
// path: DetachedDispatcher re-executes the binary as a detached
// "publish" process, and InlineDispatcher runs it in a goroutine.
//
// # Configuration
//
//	remote:
//	  host: "https://cloud.langfuse.com/api/public/otel"
//	  public_key: "pk-..."
//	  secret_key: "sk-..."
//	  protocol: "http/protobuf"
//	  max_retries: 3
//	  attempt_timeout: "3s"
//	  total_timeout: "20s"
//
// The key pair is sent as HTTP Basic authorization. If host or either key is
// missing the publisher is disabled and performs no I/O at all.
//
// # Error Handling
//
// Failed attempts are retried with exponential backoff. When every attempt
// fails, one entry is appended to the diagnostic trail and nothing else is
// reported.
//
// # Testing
//
// TestCollector is an in-process OTLP/HTTP receiver:
//
//	c := telemetry.NewTestCollector(t)
//	cfg.Endpoint = strings.TrimPrefix(c.Host(), "http://")
//	...
//	assert.Len(t, c.Spans(), 1)
package telemetry
