package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

func restoreGlobalProvider(t *testing.T) {
	t.Helper()
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobalProvider(t)

	p, err := Init(t.Context(), Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.NoError(t, p.Shutdown(t.Context()))

	var nilProviders *Providers
	assert.NoError(t, nilProviders.Shutdown(t.Context()))
}

func TestInit_Enabled(t *testing.T) {
	restoreGlobalProvider(t)

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = 0.5

	p, err := Init(t.Context(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p.tp)

	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}
