//go:build unit

package opentelemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder() (*tracetest.SpanRecorder, trace.Tracer) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	return recorder, tp.Tracer("test")
}

func TestInitializeTelemetryValidation(t *testing.T) {
	_, err := InitializeTelemetry(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilTelemetryConfig)

	_, err = InitializeTelemetry(context.Background(), &TelemetryConfig{})
	assert.ErrorIs(t, err, ErrNilTelemetryLogger)
}

func TestInitializeTelemetryDisabled(t *testing.T) {
	logger := log.NewMemory(log.LevelDebug)

	tl, err := InitializeTelemetry(context.Background(), &TelemetryConfig{
		LibraryName: "escrow",
		Logger:      logger,
	})
	require.NoError(t, err)
	require.NotNil(t, tl.MetricsFactory)
	assert.NotNil(t, tl.Tracer())

	entries := logger.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, log.LevelWarn, entries[0].Level)

	assert.NoError(t, tl.Shutdown(context.Background()))
}

func TestHandleSpanHelpers(t *testing.T) {
	recorder, tracer := newRecorder()

	_, span := tracer.Start(context.Background(), "op")
	HandleSpanEvent(&span, "evt", attribute.String("k", "v"))
	HandleSpanBusinessErrorEvent(&span, "business", errors.New("denied"))
	HandleSpanError(&span, "failed", errors.New("boom"))
	HandleSpanError(nil, "ignored", errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "failed: boom", ended[0].Status().Description)

	names := make([]string, 0)
	for _, e := range ended[0].Events() {
		names = append(names, e.Name)
	}

	assert.Contains(t, names, "evt")
	assert.Contains(t, names, "business")
}

func TestQueueHeadersRoundTripTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	_, tracer := newRecorder()
	ctx, span := tracer.Start(context.Background(), "publish")
	defer span.End()

	headers := PrepareQueueHeaders(ctx, map[string]any{"event_type": "payment.created"})
	assert.Equal(t, "payment.created", headers["event_type"])
	assert.Contains(t, headers, "traceparent")

	restored := ExtractTraceContextFromQueueHeaders(context.Background(), headers)
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(restored).TraceID())

	assert.Equal(t, context.Background(), ExtractTraceContextFromQueueHeaders(context.Background(), nil))
}
