package metrics

import (
	"context"
	"time"

	constant "github.com/LerianStudio/lib-escrow/escrow/constants"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// MetricPaymentsCreated counts escrows funded by create.
	MetricPaymentsCreated = Metric{
		Name:        constant.MetricPaymentsCreated,
		Unit:        "1",
		Description: "Number of escrowed payments created.",
	}

	// MetricPaymentsSettled counts terminal transitions, labelled by status.
	MetricPaymentsSettled = Metric{
		Name:        constant.MetricPaymentsSettled,
		Unit:        "1",
		Description: "Number of payments that reached a terminal status.",
	}

	// MetricTransitionsRejected counts transitions refused by validation.
	MetricTransitionsRejected = Metric{
		Name:        constant.MetricTransitionsRejected,
		Unit:        "1",
		Description: "Number of escrow operations rejected by validation.",
	}

	// MetricOutboxDispatched counts outbox events published.
	MetricOutboxDispatched = Metric{
		Name:        constant.MetricOutboxDispatched,
		Unit:        "1",
		Description: "Number of outbox events published.",
	}

	// MetricOutboxFailed counts outbox publish failures.
	MetricOutboxFailed = Metric{
		Name:        constant.MetricOutboxFailed,
		Unit:        "1",
		Description: "Number of outbox publish attempts that failed.",
	}

	// MetricOutboxDispatchLatency observes one dispatch cycle.
	MetricOutboxDispatchLatency = Metric{
		Name:        constant.MetricOutboxDispatchLatency,
		Unit:        "s",
		Description: "Duration of an outbox dispatch cycle.",
		Buckets:     DefaultLatencyBuckets,
	}
)

// RecordPaymentCreated increments the payments-created counter.
func (f *MetricsFactory) RecordPaymentCreated(ctx context.Context, attributes ...attribute.KeyValue) error {
	b, err := f.Counter(MetricPaymentsCreated)
	if err != nil {
		return err
	}

	return b.WithAttributes(attributes...).AddOne(ctx)
}

// RecordPaymentSettled increments the settled counter for the terminal status.
func (f *MetricsFactory) RecordPaymentSettled(ctx context.Context, status string, attributes ...attribute.KeyValue) error {
	b, err := f.Counter(MetricPaymentsSettled)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("status", status)).WithAttributes(attributes...).AddOne(ctx)
}

// RecordTransitionRejected increments the rejection counter for operation and error code.
func (f *MetricsFactory) RecordTransitionRejected(ctx context.Context, operation, code string) error {
	b, err := f.Counter(MetricTransitionsRejected)
	if err != nil {
		return err
	}

	return b.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("code", code),
	).AddOne(ctx)
}

// RecordOutboxDispatch records one dispatch cycle outcome.
func (f *MetricsFactory) RecordOutboxDispatch(ctx context.Context, published, failed int, elapsed time.Duration) error {
	if published > 0 {
		b, err := f.Counter(MetricOutboxDispatched)
		if err != nil {
			return err
		}

		if err := b.Add(ctx, int64(published)); err != nil {
			return err
		}
	}

	if failed > 0 {
		b, err := f.Counter(MetricOutboxFailed)
		if err != nil {
			return err
		}

		if err := b.Add(ctx, int64(failed)); err != nil {
			return err
		}
	}

	h, err := f.Histogram(MetricOutboxDispatchLatency)
	if err != nil {
		return err
	}

	return h.Record(ctx, elapsed.Seconds())
}
