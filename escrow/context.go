package escrow

import (
	"context"
	"strings"

	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type customContextKey string

// CustomContextKey is the context key used to store CustomContextKeyValue.
var CustomContextKey = customContextKey("escrow_context")

// CustomContextKeyValue holds the request-scoped facilities attached to a context.
type CustomContextKeyValue struct {
	HeaderID      string
	Tracer        trace.Tracer
	Logger        log.Logger
	MetricFactory *metrics.MetricsFactory
}

// cloneValues copies the stored values so derived contexts never mutate their parent.
func cloneValues(ctx context.Context) *CustomContextKeyValue {
	if values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && values != nil {
		clone := *values
		return &clone
	}

	return &CustomContextKeyValue{}
}

// ContextWithLogger returns a context carrying logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	values := cloneValues(ctx)
	values.Logger = logger

	return context.WithValue(ctx, CustomContextKey, values)
}

// ContextWithTracer returns a context carrying tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	values := cloneValues(ctx)
	values.Tracer = tracer

	return context.WithValue(ctx, CustomContextKey, values)
}

// ContextWithMetricFactory returns a context carrying metricFactory.
func ContextWithMetricFactory(ctx context.Context, metricFactory *metrics.MetricsFactory) context.Context {
	values := cloneValues(ctx)
	values.MetricFactory = metricFactory

	return context.WithValue(ctx, CustomContextKey, values)
}

// ContextWithHeaderID returns a context carrying the correlation id.
func ContextWithHeaderID(ctx context.Context, headerID string) context.Context {
	values := cloneValues(ctx)
	values.HeaderID = strings.TrimSpace(headerID)

	return context.WithValue(ctx, CustomContextKey, values)
}

// LoggerFromContext returns the stored logger, or nil when none is set.
//
//nolint:ireturn
func LoggerFromContext(ctx context.Context) log.Logger {
	if values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && values != nil {
		return values.Logger
	}

	return nil
}

// TracerFromContext returns the stored tracer, or nil when none is set.
//
//nolint:ireturn
func TracerFromContext(ctx context.Context) trace.Tracer {
	if values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && values != nil {
		return values.Tracer
	}

	return nil
}

// HeaderIDFromContext returns the stored correlation id, or "" when none is set.
func HeaderIDFromContext(ctx context.Context) string {
	if values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && values != nil {
		return values.HeaderID
	}

	return ""
}

// NewTrackingFromContext extracts the tracking components, substituting
// defaults for anything missing: a no-op logger, the global tracer, a fresh
// UUID and a no-op metrics factory.
//
//nolint:ireturn
func NewTrackingFromContext(ctx context.Context) (log.Logger, trace.Tracer, string, *metrics.MetricsFactory) {
	values, _ := ctx.Value(CustomContextKey).(*CustomContextKeyValue)
	if values == nil {
		values = &CustomContextKeyValue{}
	}

	logger := values.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	tracer := values.Tracer
	if tracer == nil {
		tracer = otel.Tracer("escrow.default")
	}

	headerID := values.HeaderID
	if headerID == "" {
		headerID = uuid.New().String()
	}

	factory := values.MetricFactory
	if factory == nil {
		factory = metrics.NewNopFactory()
	}

	return logger, tracer, headerID, factory
}
