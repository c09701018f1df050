// Package postgres persists managers, payments, custody balances and outbox
// events in PostgreSQL.
//
// Connection opens a primary/replica resolver over pgx and applies the
// embedded schema. Store implements payment.Repository with one READ
// COMMITTED transaction per unit of work, locking the rows it touches with
// SELECT ... FOR UPDATE, and outbox.Repository for the relay.
package postgres
