// Package log defines the Logger interface used across the escrow packages
// and the shared field vocabulary (manager, payment id, operation,
// correlation id) that ties events of one payment together.
//
// Backends such as the zap package implement Logger. Library code defaults
// to NewNop; tests record events with NewMemory.
package log
