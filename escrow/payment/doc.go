// Package payment implements the escrow state machine.
//
// A Manager holds the payment counter and the arbiter identity. Each Payment
// owns one program-controlled deposit account derived from the manager
// address and the payment id. The Engine validates every transition in a
// fixed order (binding, status, caller, time) and applies the status write,
// the custody transfer and the lifecycle event in one unit of work supplied
// by a Repository.
package payment
