// Package opentelemetry bootstraps tracing and metrics providers and offers
// the span helpers used by the escrow engine and the outbox relay.
package opentelemetry
