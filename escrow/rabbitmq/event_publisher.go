package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	constant "github.com/LerianStudio/lib-escrow/escrow/constants"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry"
	"github.com/LerianStudio/lib-escrow/escrow/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message headers set on every published event.
const (
	HeaderEventType   = "x-event-type"
	HeaderAggregateID = "x-aggregate-id"
)

// ErrEventRequired is returned when Publish gets a nil event.
var ErrEventRequired = errors.New("outbox event is required")

// Sender is the confirm-aware publish call EventPublisher depends on.
type Sender interface {
	PublishAndWaitConfirm(
		ctx context.Context,
		exchange, routingKey string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
}

// EventPublisher routes outbox events to a topic exchange. The routing key
// is RoutingKeyPrefix followed by the event type, e.g. escrow.payment.created.
type EventPublisher struct {
	sender   Sender
	exchange string
}

// NewEventPublisher returns an outbox.Publisher over sender. An empty
// exchange selects DefaultExchange.
func NewEventPublisher(sender Sender, exchange string) (*EventPublisher, error) {
	if sender == nil {
		return nil, ErrPublisherRequired
	}

	if exchange == "" {
		exchange = constant.DefaultExchange
	}

	return &EventPublisher{sender: sender, exchange: exchange}, nil
}

var _ outbox.Publisher = (*EventPublisher)(nil)

// Publish sends event as a persistent JSON message and waits for the broker ack.
func (p *EventPublisher) Publish(ctx context.Context, event *outbox.Event) error {
	if event == nil {
		return ErrEventRequired
	}

	if len(event.Payload) == 0 {
		return outbox.ErrOutboxEventPayloadRequired
	}

	headers := opentelemetry.PrepareQueueHeaders(ctx, map[string]any{
		HeaderEventType:   event.EventType,
		HeaderAggregateID: event.AggregateID.String(),
	})

	if event.CorrelationID != "" {
		headers[constant.HeaderID] = event.CorrelationID
	}

	msg := amqp.Publishing{
		Headers:       amqp.Table(headers),
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID.String(),
		CorrelationId: event.CorrelationID,
		Timestamp:     event.CreatedAt,
		Type:          event.EventType,
		Body:          event.Payload,
	}

	if err := p.sender.PublishAndWaitConfirm(ctx, p.exchange, RoutingKey(event.EventType), false, false, msg); err != nil {
		return fmt.Errorf("publish %s event %s: %w", event.EventType, event.ID, err)
	}

	return nil
}

// RoutingKey returns the routing key for an event type.
func RoutingKey(eventType string) string {
	return constant.RoutingKeyPrefix + eventType
}

// IsNonRetryable reports publish errors that no retry can fix: a missing
// event or payload. Broker nacks and timeouts stay retryable.
func IsNonRetryable(err error) bool {
	return errors.Is(err, ErrEventRequired) || errors.Is(err, outbox.ErrOutboxEventPayloadRequired)
}
