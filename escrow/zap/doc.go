// Package zap adapts go.uber.org/zap to the escrow log.Logger interface.
//
// Logs emitted with a context carrying an active span get trace_id and
// span_id attached, and every entry is teed into the OpenTelemetry log
// bridge under the configured library name.
package zap
