package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ServiceVersion = "1.2.3"

	res := newResource(cfg)
	require.NotNil(t, res)

	attrs := map[string]string{}
	for _, attr := range res.Attributes() {
		attrs[string(attr.Key)] = attr.Value.AsString()
	}
	assert.Equal(t, "cadence", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
}

func TestNewExporters(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		insecure bool
	}{
		{name: "http tls", protocol: protocolHTTP},
		{name: "http insecure", protocol: protocolHTTP, insecure: true},
		{name: "grpc tls", protocol: protocolGRPC},
		{name: "grpc insecure", protocol: protocolGRPC, insecure: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := enabledConfig("localhost:4318")
			cfg.Protocol = tt.protocol
			cfg.Insecure = tt.insecure

			spanExp, err := newSpanExporter(ctx, cfg)
			require.NoError(t, err)
			require.NotNil(t, spanExp)
			assert.NoError(t, spanExp.Shutdown(ctx))

			metricExp, err := newMetricExporter(ctx, cfg)
			require.NoError(t, err)
			require.NotNil(t, metricExp)
			assert.NoError(t, metricExp.Shutdown(ctx))
		})
	}
}

func TestDeltaSelector(t *testing.T) {
	assert.Equal(t, metricdata.DeltaTemporality, deltaSelector(0))
}
