// Package memory provides an in-process Store for the escrow engine and the
// outbox dispatcher. Every unit of work runs serialized on a staged copy that
// replaces the committed state only when it succeeds.
package memory
