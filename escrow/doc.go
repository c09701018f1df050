// Package escrow carries the request-scoped tracking facilities shared by the
// escrow engine and its adapters.
//
// Typical usage at ingress:
//
//	ctx = escrow.ContextWithLogger(ctx, logger)
//	ctx = escrow.ContextWithTracer(ctx, tracer)
//	ctx = escrow.ContextWithHeaderID(ctx, requestID)
//
// The ledger itself lives in the payment package; custody, storage, locking
// and event relay live in their own subpackages.
package escrow
