// Package otel holds span helpers shared by the orchestration packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys put on generation spans.
const (
	AttrGenerationID     = attribute.Key("generation.id")
	AttrGenerationStatus = attribute.Key("generation.status")
	AttrEndpoint         = attribute.Key("generation.endpoint")
	AttrProviderName     = attribute.Key("provider.name")
	AttrPageSize         = attribute.Key("pagination.limit")
	AttrResultCount      = attribute.Key("result.count")
	AttrHasCursor        = attribute.Key("pagination.has_cursor")
)

// StartSpan starts a span on tracer, or hands back the span already in ctx
// when tracer is nil.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. The status text stays generic; the
// error itself is attached as an event.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "operation failed")
}
