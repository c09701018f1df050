// Package redis provides a Redis client wrapper and a RedLock-based lock
// manager that serializes escrow units of work across engine replicas.
package redis
