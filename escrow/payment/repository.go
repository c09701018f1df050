package payment

import (
	"context"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/LerianStudio/lib-escrow/escrow/outbox"
)

// Clock is the time source, read once per operation.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls fn.
func (fn ClockFunc) Now() time.Time { return fn() }

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// Locker serializes work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

type localLocker struct{}

func (localLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// Repository runs units of work. fn either commits in full or has no effect;
// a non-nil return from fn rolls the unit back.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the keyed storage visible inside one unit of work.
//
// Lookups of missing slots return errors matching ErrManagerNotFound or
// ErrPaymentNotFound. Inserts of occupied slots return errors matching
// ErrManagerAlreadyExists, or a storage error for payments.
//
// The ForUpdate lookups hold the slot until the unit of work ends; the plain
// ones take no lock, so work on different payments of one manager proceeds
// in parallel.
type Tx interface {
	Manager(ctx context.Context, address custody.Address) (Manager, error)
	ManagerForUpdate(ctx context.Context, address custody.Address) (Manager, error)
	InsertManager(ctx context.Context, manager Manager) error
	UpdateManager(ctx context.Context, manager Manager) error

	Payment(ctx context.Context, ref Ref) (Payment, error)
	PaymentForUpdate(ctx context.Context, ref Ref) (Payment, error)
	InsertPayment(ctx context.Context, payment Payment) error
	UpdatePayment(ctx context.Context, payment Payment) error
	// PaymentsByParty lists payments of manager where party is From or To, by id.
	PaymentsByParty(ctx context.Context, manager, party custody.Address) ([]Payment, error)

	// Custody returns the ledger bound to this unit of work.
	Custody() custody.Ledger
	// Emit stores event in the outbox of this unit of work.
	Emit(ctx context.Context, event *outbox.Event) error
}
