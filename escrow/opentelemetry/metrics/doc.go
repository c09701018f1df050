// Package metrics provides a cached OpenTelemetry instrument factory and the
// escrow-specific recording helpers built on it.
package metrics
