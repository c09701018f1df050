package custody

import (
	"context"
	"fmt"
	"maps"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger moves fungible units between custody accounts.
//
// Transfer is atomic: either both balances change or neither does.
type Ledger interface {
	Open(ctx context.Context, account Account) (Account, error)
	Account(ctx context.Context, address Address) (Account, error)
	Transfer(ctx context.Context, transfer Transfer) error
}

// MemoryLedger is a map-backed Ledger. It is safe for concurrent use.
type MemoryLedger struct {
	mu       sync.RWMutex
	registry *Registry
	accounts map[Address]Account
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger checking authorizers against registry.
func NewMemoryLedger(registry *Registry) *MemoryLedger {
	if registry == nil {
		registry = NewRegistry()
	}

	return &MemoryLedger{
		registry: registry,
		accounts: make(map[Address]Account),
	}
}

// Registry returns the registry used for authorization.
func (l *MemoryLedger) Registry() *Registry {
	return l.registry
}

// Open creates account with a zero balance.
func (l *MemoryLedger) Open(ctx context.Context, account Account) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	if err := account.Validate(); err != nil {
		return Account{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.accounts[account.Address]; exists {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountExists, account.Address)
	}

	account.Balance = 0
	l.accounts[account.Address] = account

	return account, nil
}

// Account returns the stored account.
func (l *MemoryLedger) Account(ctx context.Context, address Address) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	account, ok := l.accounts[address]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}

	return account, nil
}

// Transfer applies transfer after authorization and balance checks.
func (l *MemoryLedger) Transfer(ctx context.Context, transfer Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	from, ok := l.accounts[transfer.From]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, transfer.From)
	}

	to, ok := l.accounts[transfer.To]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, transfer.To)
	}

	if err := l.registry.Authorize(from, transfer.Authorizer); err != nil {
		return err
	}

	if err := ValidateTransfer(from, to, transfer.Amount); err != nil {
		return err
	}

	from.Balance -= transfer.Amount
	to.Balance += transfer.Amount
	l.accounts[from.Address] = from
	l.accounts[to.Address] = to

	return nil
}

// Credit adds amount to an existing account without a source. It funds
// fixtures and simulates external deposits.
func (l *MemoryLedger) Credit(ctx context.Context, address Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	account, ok := l.accounts[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}

	if account.Balance > ^uint64(0)-amount {
		return ErrBalanceOverflow
	}

	account.Balance += amount
	l.accounts[address] = account

	return nil
}

// Supply sums every balance held in mint.
func (l *MemoryLedger) Supply(mint Address) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero

	for _, account := range l.accounts {
		if account.Mint == mint {
			total = total.Add(decimal.NewFromBigInt(new(big.Int).SetUint64(account.Balance), 0))
		}
	}

	return total
}

// Clone returns an independent copy sharing the registry. Units of work stage
// their changes on a clone and Replace the original on commit.
func (l *MemoryLedger) Clone() *MemoryLedger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &MemoryLedger{
		registry: l.registry,
		accounts: maps.Clone(l.accounts),
	}
}

// Replace adopts the accounts of staged.
func (l *MemoryLedger) Replace(staged *MemoryLedger) {
	staged.mu.RLock()
	accounts := maps.Clone(staged.accounts)
	staged.mu.RUnlock()

	l.mu.Lock()
	l.accounts = accounts
	l.mu.Unlock()
}
