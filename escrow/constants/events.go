package constant

// Outbox event types, one per committed mutation.
const (
	EventManagerInitialized   = "manager.initialized"
	EventManagerSystemUpdated = "manager.system_updated"
	EventPaymentCreated       = "payment.created"
	EventPaymentExtended      = "payment.extended"
	EventPaymentInvalidated   = "payment.invalidated"
	EventPaymentWithdrawn     = "payment.withdrawn"
	EventPaymentRejected      = "payment.rejected"
	EventPaymentFinalized     = "payment.finalized"
)

// AMQP routing defaults for the relay.
const (
	// DefaultExchange receives every escrow lifecycle event.
	DefaultExchange = "escrow.events"
	// RoutingKeyPrefix is prepended to the event type to build the routing key.
	RoutingKeyPrefix = "escrow."
)
