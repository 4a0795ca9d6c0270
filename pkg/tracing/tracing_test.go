package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(false, "geocache-proxy", nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_Enabled(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	buf := &bytes.Buffer{}
	shutdown, err := Setup(true, "geocache-proxy", buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "origin.fetch")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"origin.fetch"`)
	assert.Contains(t, buf.String(), "geocache-proxy")
}
