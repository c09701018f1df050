// Package assert guards internal invariants of the escrow engine.
//
// A failed assertion never panics: it returns an error wrapping
// ErrAssertionFailed, logs it, marks the active span and counts it.
package assert

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	constant "github.com/LerianStudio/lib-escrow/escrow/constants"
	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry/metrics"
)

// Asserter evaluates invariants and emits telemetry on failure.
type Asserter struct {
	logger    log.Logger
	factory   *metrics.MetricsFactory
	component string
	operation string
}

// ErrAssertionFailed is the sentinel error for failed assertions.
var ErrAssertionFailed = errors.New("assertion failed")

// AssertionError represents a failed assertion.
type AssertionError struct {
	Assertion string
	Message   string
	Component string
	Operation string
	Details   string
}

// Error returns the formatted assertion failure message.
func (entry *AssertionError) Error() string {
	if entry == nil {
		return ErrAssertionFailed.Error()
	}

	if entry.Details == "" {
		return "assertion failed: " + entry.Message
	}

	return "assertion failed: " + entry.Message + " [" + entry.Details + "]"
}

// Unwrap returns the sentinel assertion error for errors.Is.
func (entry *AssertionError) Unwrap() error {
	return ErrAssertionFailed
}

// New creates an Asserter. Nil logger and factory fall back to no-op implementations.
func New(logger log.Logger, factory *metrics.MetricsFactory, component, operation string) *Asserter {
	if logger == nil {
		logger = log.NewNop()
	}

	if factory == nil {
		factory = metrics.NewNopFactory()
	}

	return &Asserter{
		logger:    logger,
		factory:   factory,
		component: component,
		operation: operation,
	}
}

// That returns an error if ok is false.
func (asserter *Asserter) That(ctx context.Context, ok bool, msg string, kv ...any) error {
	if ok {
		return nil
	}

	return asserter.fail(ctx, "That", msg, kv...)
}

// Equal returns an error if got differs from want.
func (asserter *Asserter) Equal(ctx context.Context, want, got uint64, msg string, kv ...any) error {
	if want == got {
		return nil
	}

	return asserter.fail(ctx, "Equal", msg, append([]any{"want", want, "got", got}, kv...)...)
}

// NotNil returns an error if v is nil, including typed nils.
func (asserter *Asserter) NotNil(ctx context.Context, v any, msg string, kv ...any) error {
	if !isNil(v) {
		return nil
	}

	return asserter.fail(ctx, "NotNil", msg, kv...)
}

// NoError returns an error if err is not nil.
func (asserter *Asserter) NoError(ctx context.Context, err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}

	return asserter.fail(ctx, "NoError", msg, append([]any{"error", err.Error(), "error_type", fmt.Sprintf("%T", err)}, kv...)...)
}

// Never always returns an error. Use for unreachable code paths.
func (asserter *Asserter) Never(ctx context.Context, msg string, kv ...any) error {
	return asserter.fail(ctx, "Never", msg, kv...)
}

const maxValueLength = 200

func truncateValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= maxValueLength {
		return s
	}

	return s[:maxValueLength] + "... (truncated " + strconv.Itoa(len(s)-maxValueLength) + " chars)"
}

func (asserter *Asserter) fail(ctx context.Context, assertion, msg string, kv ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if asserter == nil {
		asserter = New(nil, nil, "", "")
	}

	details := formatKeyValues(kv)

	asserter.logger.Log(ctx, log.LevelError, "assertion failed: "+msg,
		log.String("assertion", assertion),
		log.String("component", asserter.component),
		log.String("operation", asserter.operation),
		log.String("details", details),
	)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(constant.EventAssertionFailed, trace.WithAttributes(
			attribute.String(constant.AttrPrefixAssertion+"type", assertion),
			attribute.String(constant.AttrPrefixAssertion+"message", msg),
			attribute.String(constant.AttrPrefixAssertion+"component", asserter.component),
			attribute.String(constant.AttrPrefixAssertion+"operation", asserter.operation),
		))
		span.SetStatus(codes.Error, "assertion failed: "+msg)
	}

	if counter, err := asserter.factory.Counter(assertionFailedMetric); err == nil {
		_ = counter.WithAttributes(
			attribute.String("component", truncateLabel(asserter.component)),
			attribute.String("operation", truncateLabel(asserter.operation)),
			attribute.String("assertion", assertion),
		).AddOne(ctx)
	}

	return &AssertionError{
		Assertion: assertion,
		Message:   msg,
		Component: asserter.component,
		Operation: asserter.operation,
		Details:   details,
	}
}

func formatKeyValues(kv []any) string {
	if len(kv) == 0 {
		return ""
	}

	parts := make([]string, 0, (len(kv)+1)/2)

	for i := 0; i < len(kv); i += 2 {
		var value any = "MISSING_VALUE"
		if i+1 < len(kv) {
			value = kv[i+1]
		}

		parts = append(parts, fmt.Sprintf("%v=%s", kv[i], truncateValue(value)))
	}

	return strings.Join(parts, " ")
}

func truncateLabel(s string) string {
	if len(s) > constant.MaxMetricLabelLength {
		return s[:constant.MaxMetricLabelLength]
	}

	return s
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

var assertionFailedMetric = metrics.Metric{
	Name:        constant.MetricAssertionFailedTotal,
	Unit:        "1",
	Description: "Total number of failed assertions",
}
