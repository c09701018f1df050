// Package constant holds the shared names used across the escrow packages.
//
// Keep this package free of runtime behavior.
package constant
