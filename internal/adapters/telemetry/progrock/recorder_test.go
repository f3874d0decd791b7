package progrock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vito/progrock"

	adapter "go.trai.ch/hotswap/internal/adapters/telemetry/progrock"
	"go.trai.ch/hotswap/internal/core/ports"
)

func TestTracer_SpanLifecycle(t *testing.T) {
	tape := progrock.NewTape()
	tracer := adapter.NewTracer(tape)

	ctx, span := tracer.Start(context.Background(), "build.fat")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	n, err := span.Write([]byte("linking\n"))
	require.NoError(t, err)
	require.Equal(t, 8, n)

	span.SetAttribute("binary", "app")
	span.End()

	require.NoError(t, tracer.Close())
}

func TestTracer_SpanReportsError(t *testing.T) {
	tape := progrock.NewTape()
	tracer := adapter.NewTracer(tape)

	_, span := tracer.Start(context.Background(), "build.thin", ports.WithInternal())
	span.RecordError(errors.New("link failed"))
	// A second End must not double-complete the vertex.
	span.End()
	span.End()

	require.NoError(t, tracer.Close())
}
