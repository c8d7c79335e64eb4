package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	provider := otel.GetTracerProvider()
	propagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagator)
	})
}

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	shutdown, err := Init(context.Background())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.Same(t, before, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitWithEndpoint(t *testing.T) {
	restoreGlobals(t)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:4318")
	t.Setenv("OTEL_SERVICE_NAME", "attestor-test")

	shutdown, err := Init(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestServiceNameFromEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "  ")
	assert.Equal(t, defaultServiceName, serviceNameFromEnv())

	t.Setenv("OTEL_SERVICE_NAME", " custom ")
	assert.Equal(t, "custom", serviceNameFromEnv())
}

func TestInitRejectsBadEndpoint(t *testing.T) {
	for _, endpoint := range []string{"http://[::1", "collector:4318", "ftp://collector"} {
		t.Run(endpoint, func(t *testing.T) {
			restoreGlobals(t)
			before := otel.GetTracerProvider()
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

			shutdown, err := Init(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "OTEL_EXPORTER_OTLP_ENDPOINT")
			assert.Nil(t, shutdown)
			assert.Same(t, before, otel.GetTracerProvider(), "no provider installed")
		})
	}
}
