package constant

// TelemetrySDKName identifies this library in OTEL instrumentation scopes.
const TelemetrySDKName = "lib-escrow/opentelemetry"

// MaxMetricLabelLength bounds metric label values.
const MaxMetricLabelLength = 64

// Telemetry attribute key prefixes.
const (
	// AttrPrefixPayment is the prefix for payment span attributes.
	AttrPrefixPayment = "escrow.payment."
	// AttrPrefixAssertion is the prefix for assertion event attributes.
	AttrPrefixAssertion = "assertion."
)

// Database and broker system identifiers for span attributes.
const (
	AttrDBSystem       = "db.system"
	DBSystemPostgreSQL = "postgresql"
	DBSystemRedis      = "redis"
	DBSystemRabbitMQ   = "rabbitmq"
)

// Telemetry metric names.
const (
	MetricPaymentsCreated       = "escrow_payments_created_total"
	MetricPaymentsSettled       = "escrow_payments_settled_total"
	MetricTransitionsRejected   = "escrow_transitions_rejected_total"
	MetricAssertionFailedTotal  = "escrow_assertion_failed_total"
	MetricOutboxDispatched      = "escrow_outbox_dispatched_total"
	MetricOutboxFailed          = "escrow_outbox_failed_total"
	MetricOutboxDispatchLatency = "escrow_outbox_dispatch_latency_seconds"
)

// Telemetry event names.
const (
	// EventAssertionFailed is the span event name for assertion failures.
	EventAssertionFailed = "assertion.failed"
	// EventTransitionRejected is the span event name for refused escrow operations.
	EventTransitionRejected = "escrow.transition.rejected"
)

// SpanPrefix prefixes every engine span name.
const SpanPrefix = "escrow.payment."
