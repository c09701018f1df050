// Package outbox stores lifecycle events in the same unit of work as the
// state change that produced them and relays them to a broker afterwards.
//
// Delivery is at-least-once: an event is published before it is marked
// PUBLISHED, so consumers must be idempotent on Event.ID. Each relay claims
// the events it lists by moving them to PROCESSING; claims older than
// DispatcherConfig.ProcessingTimeout are reclaimed by the next cycle.
package outbox
