package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	colmetricpb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	"google.golang.org/protobuf/proto"
)

// ReceivedSpan is a span decoded by TestCollector.
type ReceivedSpan struct {
	Name          string
	Path          string
	Authorization string
	Start         time.Time
	End           time.Time
	Attributes    map[string]any
}

// TestCollector is an in-process OTLP/HTTP receiver for tests.
//
// It decodes protobuf payloads so assertions can look at span names and
// attributes, and can be told to fail a number of requests with 503 or to
// stall every request until the client gives up.
type TestCollector struct {
	server  *httptest.Server
	release chan struct{}

	mu             sync.Mutex
	stall          bool
	failNext       int
	requests       int
	traceRequests  int
	metricRequests int
	spans          []ReceivedSpan
	metricNames    []string
	paths          []string
}

// NewTestCollector starts a collector that is closed with the test.
func NewTestCollector(tb testing.TB) *TestCollector {
	tb.Helper()
	c := &TestCollector{release: make(chan struct{})}
	c.server = httptest.NewServer(http.HandlerFunc(c.handle))
	tb.Cleanup(c.server.Close)
	// Runs before Close so stalled handlers can return.
	tb.Cleanup(func() { close(c.release) })
	return c
}

// Host returns the collector base URL, e.g. http://127.0.0.1:41234.
func (c *TestCollector) Host() string {
	return c.server.URL
}

// FailNext makes the next n requests return 503.
func (c *TestCollector) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// Stall makes every following request hang until the client cancels it.
func (c *TestCollector) Stall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stall = true
}

// Requests returns the number of requests received, failed ones included.
func (c *TestCollector) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// TraceRequests returns the number of accepted trace exports.
func (c *TestCollector) TraceRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traceRequests
}

// MetricRequests returns the number of accepted metric exports.
func (c *TestCollector) MetricRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metricRequests
}

// Spans returns every accepted span.
func (c *TestCollector) Spans() []ReceivedSpan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ReceivedSpan(nil), c.spans...)
}

// MetricNames returns the names of every accepted metric data point series.
func (c *TestCollector) MetricNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.metricNames...)
}

// Paths returns the request paths seen, in order.
func (c *TestCollector) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func (c *TestCollector) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.requests++
	c.paths = append(c.paths, r.URL.Path)
	stall := c.stall
	c.mu.Unlock()

	if stall {
		select {
		case <-r.Context().Done():
		case <-c.release:
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	var resp proto.Message
	switch {
	case strings.HasSuffix(r.URL.Path, tracesPath):
		var req coltracepb.ExportTraceServiceRequest
		if err := proto.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.traceRequests++
		for _, rs := range req.GetResourceSpans() {
			for _, ss := range rs.GetScopeSpans() {
				for _, s := range ss.GetSpans() {
					c.spans = append(c.spans, ReceivedSpan{
						Name:          s.GetName(),
						Path:          r.URL.Path,
						Authorization: r.Header.Get("Authorization"),
						Start:         time.Unix(0, int64(s.GetStartTimeUnixNano())).UTC(),
						End:           time.Unix(0, int64(s.GetEndTimeUnixNano())).UTC(),
						Attributes:    decodeAttributes(s.GetAttributes()),
					})
				}
			}
		}
		resp = &coltracepb.ExportTraceServiceResponse{}

	case strings.HasSuffix(r.URL.Path, metricsPath):
		var req colmetricpb.ExportMetricsServiceRequest
		if err := proto.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.metricRequests++
		for _, rm := range req.GetResourceMetrics() {
			for _, sm := range rm.GetScopeMetrics() {
				for _, m := range sm.GetMetrics() {
					c.metricNames = append(c.metricNames, m.GetName())
				}
			}
		}
		resp = &colmetricpb.ExportMetricsServiceResponse{}

	default:
		http.NotFound(w, r)
		return
	}

	out, err := proto.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// decodeAttributes flattens OTLP attributes into Go values.
func decodeAttributes(kvs []*commonpb.KeyValue) map[string]any {
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		v := kv.GetValue()
		switch v.GetValue().(type) {
		case *commonpb.AnyValue_StringValue:
			out[kv.GetKey()] = v.GetStringValue()
		case *commonpb.AnyValue_IntValue:
			out[kv.GetKey()] = v.GetIntValue()
		case *commonpb.AnyValue_DoubleValue:
			out[kv.GetKey()] = v.GetDoubleValue()
		case *commonpb.AnyValue_BoolValue:
			out[kv.GetKey()] = v.GetBoolValue()
		case *commonpb.AnyValue_ArrayValue:
			var items []string
			for _, item := range v.GetArrayValue().GetValues() {
				items = append(items, item.GetStringValue())
			}
			out[kv.GetKey()] = items
		}
	}
	return out
}
