// Package progrock provides the Progrock implementation of the telemetry adapter.
package progrock

import (
	"context"

	"github.com/opencontainers/go-digest"
	"github.com/vito/progrock"
	"go.trai.ch/hotswap/internal/core/ports"
)

// Tracer implements ports.Tracer by recording each span as a Progrock vertex.
type Tracer struct {
	w   progrock.Writer
	rec *progrock.Recorder
}

// New creates a Tracer with a default tape.
func New() ports.Tracer {
	tape := progrock.NewTape()
	return NewTracer(tape)
}

// NewTracer creates a Tracer with the given writer.
func NewTracer(w progrock.Writer) *Tracer {
	rec := progrock.NewRecorder(w)
	return &Tracer{
		w:   w,
		rec: rec,
	}
}

// Start begins recording a vertex for a build stage.
func (t *Tracer) Start(ctx context.Context, name string, opts ...ports.SpanOption) (context.Context, ports.Span) {
	cfg := &ports.SpanConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var vopts []progrock.VertexOpt
	if cfg.Internal {
		vopts = append(vopts, progrock.Internal())
	}
	d := digest.FromString(name)
	v := t.rec.Vertex(d, name, vopts...)
	return ctx, &Span{vertex: v}
}

// Close flushes and closes the recording session.
func (t *Tracer) Close() error {
	if c, ok := t.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
