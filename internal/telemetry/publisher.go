package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/logging"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/cadence"

	// SpanName names the span emitted for every commit.
	SpanName = "cadence.commit"

	// CommitCounterName and CycleHistogramName name the exported instruments.
	CommitCounterName  = "cadence.commits"
	CycleHistogramName = "cadence.cycle.duration"

	shutdownTimeout = time.Second
)

// cycleBuckets are histogram bounds in seconds, from 30s to 2h.
var cycleBuckets = []float64{30, 60, 120, 300, 600, 900, 1800, 3600, 7200}

// MessageScrubber removes secrets from commit messages before export.
type MessageScrubber interface {
	Scrub(text string) (string, int, error)
}

// Publisher delivers one record to the observability backend.
//
// A Publisher is single-use per record in practice: each Publish builds its
// own exporters and tears them down, because it runs inside a short-lived
// process that exits right after.
type Publisher struct {
	cfg      *Config
	logger   *logging.Logger
	trail    *Trail
	scrubber MessageScrubber

	spanExporter   sdktrace.SpanExporter
	metricExporter sdkmetric.Exporter
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// WithTrail sets where exhausted deliveries are recorded.
func WithTrail(t *Trail) Option {
	return func(p *Publisher) { p.trail = t }
}

// WithScrubber sets the message scrubber.
func WithScrubber(s MessageScrubber) Option {
	return func(p *Publisher) { p.scrubber = s }
}

// WithSpanExporter overrides the OTLP span exporter.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(p *Publisher) { p.spanExporter = exp }
}

// WithMetricExporter overrides the OTLP metric exporter.
func WithMetricExporter(exp sdkmetric.Exporter) Option {
	return func(p *Publisher) { p.metricExporter = exp }
}

// NewPublisher creates a publisher.
func NewPublisher(cfg *Config, opts ...Option) *Publisher {
	p := &Publisher{
		cfg:    cfg,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("telemetry")
	return p
}

// Enabled reports whether Publish would attempt any network activity.
func (p *Publisher) Enabled() bool {
	return p != nil && p.cfg.Enabled()
}

// Publish sends rec as a span, plus metrics when enabled.
//
// Returns ErrDisabled without any I/O when no backend is configured. When
// every attempt fails, one entry is written to the diagnostic trail and the
// last error is returned.
func (p *Publisher) Publish(ctx context.Context, rec eventlog.Record) error {
	if !p.Enabled() {
		return ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.TotalTimeout)
	defer cancel()

	if err := p.cfg.Validate(); err != nil {
		err = fmt.Errorf("invalid remote config: %w", err)
		p.trail.Record(ctx, rec, 0, err)
		return err
	}

	rec = p.scrub(ctx, rec)
	res := newResource(p.cfg)

	spans := buildSpans(ctx, res, p.cfg.ServiceVersion, rec)

	var jobs []*exportJob

	spanExp := p.spanExporter
	if spanExp == nil {
		exp, err := newSpanExporter(ctx, p.cfg)
		if err != nil {
			p.trail.Record(ctx, rec, 0, err)
			return err
		}
		spanExp = exp
	}
	defer shutdownExporter(ctx, spanExp.Shutdown)
	jobs = append(jobs, &exportJob{
		name:   "spans",
		export: func(ctx context.Context) error { return spanExp.ExportSpans(ctx, spans) },
	})

	if p.cfg.Metrics && !rec.Duplicate {
		rm, err := buildMetrics(ctx, res, rec)
		if err != nil {
			p.logger.Warn(ctx, "building metrics failed", zap.Error(err))
		} else {
			metricExp := p.metricExporter
			if metricExp == nil {
				metricExp, err = newMetricExporter(ctx, p.cfg)
			}
			if err != nil {
				p.logger.Warn(ctx, "creating metric exporter failed", zap.Error(err))
			} else {
				defer shutdownExporter(ctx, metricExp.Shutdown)
				jobs = append(jobs, &exportJob{
					name:   "metrics",
					export: func(ctx context.Context) error { return metricExp.Export(ctx, rm) },
				})
			}
		}
	}

	attempts, err := p.deliver(ctx, jobs)
	if err != nil {
		p.trail.Record(ctx, rec, attempts, err)
		return fmt.Errorf("publishing %s after %d attempts: %w", rec.CommitHash, attempts, err)
	}

	p.logger.Debug(ctx, "record published",
		zap.String("commit", rec.CommitHash),
		zap.Int("attempts", attempts))
	return nil
}

// scrub redacts secrets from the message. If scrubbing fails the message is
// dropped rather than sent raw.
func (p *Publisher) scrub(ctx context.Context, rec eventlog.Record) eventlog.Record {
	if p.scrubber == nil || rec.Message == "" {
		return rec
	}
	clean, n, err := p.scrubber.Scrub(rec.Message)
	if err != nil {
		p.logger.Warn(ctx, "message scrubbing unavailable, dropping message from payload", zap.Error(err))
		rec.Message = ""
		return rec
	}
	if n > 0 {
		p.logger.Debug(ctx, "redacted secrets from message", zap.Int("findings", n))
	}
	rec.Message = clean
	return rec
}

func shutdownExporter(ctx context.Context, shutdown func(context.Context) error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	_ = shutdown(sctx)
}

// recordAttributes maps a record onto span and metric attributes.
func recordAttributes(rec eventlog.Record) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("cadence.commit.hash", rec.CommitHash),
		attribute.String("cadence.branch", rec.Branch),
		attribute.String("cadence.phase", rec.Phase.String()),
		attribute.String("cadence.commit.message", rec.Message),
		attribute.Int("cadence.files_changed", rec.FilesChanged),
		attribute.Int("cadence.lines_added", rec.LinesAdded),
		attribute.Int("cadence.lines_removed", rec.LinesRemoved),
		attribute.String("cadence.occurred_at", rec.OccurredAt.UTC().Format(time.RFC3339)),
		attribute.Bool("cadence.duplicate", rec.Duplicate),
	}
	if rec.InvocationID != "" {
		attrs = append(attrs, attribute.String("cadence.invocation_id", rec.InvocationID))
	}
	if rec.Repository != "" {
		attrs = append(attrs, attribute.String("cadence.repository", rec.Repository))
	}
	if rec.Author != "" {
		attrs = append(attrs, attribute.String("cadence.commit.author", rec.Author))
	}
	if d, ok := rec.CycleDuration(); ok {
		attrs = append(attrs, attribute.Float64("cadence.cycle.duration_seconds", d.Seconds()))
	}
	if len(rec.Anomalies) > 0 {
		names := make([]string, len(rec.Anomalies))
		for i, a := range rec.Anomalies {
			names[i] = string(a)
		}
		attrs = append(attrs, attribute.StringSlice("cadence.anomalies", names))
	}
	return attrs
}

// buildSpans renders rec as a single finished span. The span covers the
// cycle when one closed, otherwise it is instantaneous at the commit time.
func buildSpans(ctx context.Context, res *resource.Resource, version string, rec eventlog.Record) []sdktrace.ReadOnlySpan {
	capture := &captureProcessor{}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(capture),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)

	start := rec.OccurredAt
	if rec.CycleStartedAt != nil {
		start = *rec.CycleStartedAt
	}

	tracer := tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(version))
	_, span := tracer.Start(ctx, SpanName,
		trace.WithNewRoot(),
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(recordAttributes(rec)...),
	)
	span.End(trace.WithTimestamp(rec.OccurredAt))

	_ = tp.Shutdown(ctx)
	return capture.ended()
}

// buildMetrics records rec into a manual reader and collects it once.
func buildMetrics(ctx context.Context, res *resource.Resource, rec eventlog.Record) (*metricdata.ResourceMetrics, error) {
	reader := sdkmetric.NewManualReader(sdkmetric.WithTemporalitySelector(deltaSelector))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	defer shutdownExporter(ctx, mp.Shutdown)

	meter := mp.Meter(instrumentationName)

	commits, err := meter.Int64Counter(CommitCounterName,
		metric.WithDescription("Commits observed, by phase"),
		metric.WithUnit("{commit}"))
	if err != nil {
		return nil, fmt.Errorf("creating commit counter: %w", err)
	}
	commits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cadence.phase", rec.Phase.String()),
		attribute.String("cadence.branch", rec.Branch),
	))

	if d, ok := rec.CycleDuration(); ok {
		cycles, err := meter.Float64Histogram(CycleHistogramName,
			metric.WithDescription("RED to GREEN cycle duration"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(cycleBuckets...))
		if err != nil {
			return nil, fmt.Errorf("creating cycle histogram: %w", err)
		}
		cycles.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("cadence.branch", rec.Branch),
		))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}
	return &rm, nil
}

// captureProcessor keeps ended spans in memory for explicit export.
type captureProcessor struct {
	mu    sync.Mutex
	spans []sdktrace.ReadOnlySpan
}

func (c *captureProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (c *captureProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, s)
}

func (c *captureProcessor) Shutdown(context.Context) error   { return nil }
func (c *captureProcessor) ForceFlush(context.Context) error { return nil }

func (c *captureProcessor) ended() []sdktrace.ReadOnlySpan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sdktrace.ReadOnlySpan(nil), c.spans...)
}
