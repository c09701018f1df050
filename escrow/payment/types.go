package payment

import (
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
)

// Manager is the per-deployment registry of the payment counter and arbiter.
type Manager struct {
	Address custody.Address `json:"address"`
	// Authority is the only identity allowed to change System.
	Authority custody.Address `json:"authority"`
	// PaymentCount is the next unused payment id.
	PaymentCount uint64          `json:"paymentCount"`
	System       custody.Address `json:"system"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Ref addresses one payment slot.
type Ref struct {
	Manager custody.Address `json:"manager"`
	ID      uint64          `json:"id"`
}

// Payment is one escrow instance. Records are never deleted.
type Payment struct {
	Manager custody.Address `json:"manager"`
	ID      uint64          `json:"id"`
	// Address is derived from (manager, id) and controls Deposit.
	Address custody.Address `json:"address"`
	// Deposit is the custody sub-account holding Amount while Active.
	Deposit   custody.Address `json:"deposit"`
	From      custody.Address `json:"from"`
	To        custody.Address `json:"to"`
	Mint      custody.Address `json:"mint"`
	Amount    uint64          `json:"amount"`
	Expiry    time.Time       `json:"expiry"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	SettledAt *time.Time      `json:"settledAt,omitempty"`
}

// Ref returns the slot address of p.
func (p Payment) Ref() Ref {
	return Ref{Manager: p.Manager, ID: p.ID}
}

// InitializeInput creates a manager. Authority is the verified caller.
type InitializeInput struct {
	Manager   custody.Address
	Authority custody.Address
	System    custody.Address
}

// UpdateSystemInput replaces the arbiter of a manager.
type UpdateSystemInput struct {
	Manager   custody.Address
	Caller    custody.Address
	NewSystem custody.Address
}

// CreatePaymentInput opens an escrow. From is the verified caller and funds
// the deposit from its account for Mint. Expiry is stored with second
// precision; an Expiry carrying fractional seconds is rejected.
type CreatePaymentInput struct {
	Manager custody.Address
	From    custody.Address
	To      custody.Address
	Mint    custody.Address
	Amount  uint64
	Expiry  time.Time
}

// Binding carries the linkage a caller expects the payment to have. Zero
// fields are not checked.
type Binding struct {
	From custody.Address
	To   custody.Address
	Mint custody.Address
}

// TransitionInput addresses a payment on behalf of the verified Caller.
type TransitionInput struct {
	Ref    Ref
	Caller custody.Address
	Expect Binding
}

// ExtendInput moves the expiry of an active payment forward. NewExpiry must
// be a whole second, like CreatePaymentInput.Expiry.
type ExtendInput struct {
	TransitionInput
	NewExpiry time.Time
}
