package cmap

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracer is a package-level tracer taken from otel's global tracer
// provider, which is a no-op until the process installs one, since the
// map's operations are not context-shaped (no suspension
// points, no cancellation) except for the optional span this package adds
// around resize-assist.
var tracer trace.Tracer = otel.GetTracerProvider().Tracer("github.com/tempo-labs/cmap")

// WithTracer installs a custom TracerProvider for the resize-assist span
// ReserveContext emits, overriding otel's global provider for every Map in
// the process.
func WithTracer[K comparable, V any](provider trace.TracerProvider) Option[K, V] {
	return func(_ *mapConfig[K, V]) {
		tracer = provider.Tracer("github.com/tempo-labs/cmap")
	}
}

// ReserveContext is Reserve with a resize-assist span around the call.
// Reserve itself stays context-free, matching the rest of the package's
// non-blocking operations; this is the opt-in, traced entry point for
// callers that want resize latency visible in a trace.
func (m *Map[K, V]) ReserveContext(ctx context.Context, n int) {
	_, span := tracer.Start(ctx, "cmap.Reserve")
	defer span.End()

	span.AddEvent("resize.assist.start")
	m.Reserve(n)
	span.AddEvent("resize.assist.complete")
}
