package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingTracer(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder, tp.Tracer("generations")
}

func TestStartSpan_WithoutTracerReusesParent(t *testing.T) {
	t.Parallel()

	recorder, tracer := recordingTracer(t)
	parentCtx, parent := tracer.Start(context.Background(), "http.request")

	ctx, span := StartSpan(parentCtx, nil, "orchestrator.Get")
	assert.Equal(t, parent.SpanContext(), span.SpanContext())
	assert.Equal(t, parentCtx, ctx)

	parent.End()
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "http.request", recorder.Ended()[0].Name())
}

func TestStartSpan_WithoutTracerOrParent(t *testing.T) {
	t.Parallel()

	_, span := StartSpan(context.Background(), nil, "orchestrator.List")
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() {
		RecordError(span, errors.New("boom"))
		span.End()
	})
}

func TestStartSpan_ChildCarriesAttributes(t *testing.T) {
	t.Parallel()

	recorder, tracer := recordingTracer(t)
	parentCtx, parent := tracer.Start(context.Background(), "http.request")

	_, span := StartSpan(parentCtx, tracer, "orchestrator.Create",
		trace.WithAttributes(AttrEndpoint.String("acme/flux"), AttrProviderName.String("predictions")))
	span.SetAttributes(AttrGenerationStatus.String("pending"))
	span.End()
	parent.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	child := ended[0]
	assert.Equal(t, "orchestrator.Create", child.Name())
	assert.Equal(t, parent.SpanContext().SpanID(), child.Parent().SpanID())

	attrs := make(map[string]string)
	for _, kv := range child.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, map[string]string{
		"generation.endpoint": "acme/flux",
		"provider.name":       "predictions",
		"generation.status":   "pending",
	}, attrs)
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantCode   codes.Code
		wantEvents int
	}{
		{name: "nil error leaves span untouched", err: nil, wantCode: codes.Unset},
		{name: "error marks span failed", err: errors.New("store unavailable"), wantCode: codes.Error, wantEvents: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder, tracer := recordingTracer(t)
			_, span := tracer.Start(context.Background(), "orchestrator.Delete")
			RecordError(span, tt.err)
			span.End()

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, tt.wantCode, ended[0].Status().Code)
			assert.Len(t, ended[0].Events(), tt.wantEvents)
			if tt.err != nil {
				// the message never reaches the status, only the event
				assert.Equal(t, "operation failed", ended[0].Status().Description)
				assert.Equal(t, "exception", ended[0].Events()[0].Name)
			}
		})
	}

	assert.NotPanics(t, func() { RecordError(nil, errors.New("x")) })
}
