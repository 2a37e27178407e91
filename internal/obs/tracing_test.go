package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = InitTracer(context.Background(), TracingConfig{Exporter: "zipkin"})
	require.ErrorContains(t, err, "unsupported tracing exporter")
}

func TestTracingSampler(t *testing.T) {
	require.Contains(t, TracingConfig{SamplingRatio: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
	require.Contains(t, TracingConfig{SamplingRatio: 7}.sampler().Description(), "AlwaysOnSampler")
}
