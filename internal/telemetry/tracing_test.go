package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerProviderInstallsGlobals(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, "wiki-mirror-test", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	_, span := otel.Tracer("test").Start(ctx, "step")
	require.True(t, span.SpanContext().IsValid())
	require.True(t, span.SpanContext().IsSampled())
	span.End()

	require.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}
