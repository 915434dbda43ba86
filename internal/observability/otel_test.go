package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/record-review/internal/config"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	shutdown, err := Init(context.Background(), config.OtelConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_EnabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), config.OtelConfig{Enabled: true, SampleRatio: 1})
	require.NoError(t, err)
	t.Cleanup(func() { shutdown(context.Background()) }) //nolint:errcheck

	_, span := Tracer().Start(context.Background(), "compute-view")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}

func TestClampRatio(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.0, clampRatio(-1), 1e-9)
	assert.InDelta(t, 0.25, clampRatio(0.25), 1e-9)
	assert.InDelta(t, 1.0, clampRatio(3), 1e-9)
}

func TestExporterOptions(t *testing.T) {
	t.Parallel()

	assert.Len(t, exporterOptions("http://collector:4318"), 2)
	assert.Len(t, exporterOptions("https://collector.example"), 1)
	assert.Len(t, exporterOptions("collector:4318"), 1)
}
