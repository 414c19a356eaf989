package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("podscaler")

// Attrs is a convenience map for StartSpan callers; keys are short,
// hyphenated attribute names (e.g. "pod-id", "prompt-id").
type Attrs map[string]string

// StartSpan starts a span named `name` under the podscaler tracer,
// attaching attrs as string attributes, and returns the derived context
// alongside the span. Callers are expected to `defer func() { End(span,
// err) }()` immediately after, capturing a named error return.
func StartSpan(ctx context.Context, name string, attrs Attrs) (context.Context, trace.Span) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(kvs...))
}

// End records err on the span (if non-nil) and closes it. It is always
// safe to call with a nil err.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
