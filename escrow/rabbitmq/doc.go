// Package rabbitmq publishes escrow outbox events to a RabbitMQ exchange
// with publisher confirms.
//
// A ConfirmablePublisher serializes publish+confirm over one channel. An
// EventPublisher adapts it to outbox.Publisher so the relay can drain the
// outbox into the broker.
package rabbitmq
