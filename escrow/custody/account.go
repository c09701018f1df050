package custody

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrAccountNotFound      = errors.New("custody account not found")
	ErrAccountExists        = errors.New("custody account already exists")
	ErrMintMismatch         = errors.New("custody account mint mismatch")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrBalanceOverflow      = errors.New("balance overflow")
	ErrSameAccount          = errors.New("source and destination are the same account")
	ErrUnauthorized         = errors.New("transfer not authorized by account controller")
	ErrProgramRegistered    = errors.New("program already registered")
	ErrInvalidAccount       = errors.New("invalid custody account")
	ErrNilAuthorizer        = errors.New("transfer authorizer is required")
	ErrProgramNotRegistered = errors.New("program not registered")
)

// Account is one custody location for a single mint.
type Account struct {
	Address Address
	Mint    Address
	// Controller is the identity whose authorization moves funds out.
	Controller Address
	// Program is the owning program for program-controlled accounts, zero for end users.
	Program Address
	Balance uint64
}

// ProgramControlled reports whether the account has no key holder.
func (a Account) ProgramControlled() bool {
	return !a.Program.IsZero()
}

// UserAccount returns the end-user account of owner for mint.
func UserAccount(owner, mint Address) Account {
	return Account{
		Address:    AssociatedAddress(owner, mint),
		Mint:       mint,
		Controller: owner,
	}
}

// ProgramAccount returns an account at address controlled by the program-derived controller.
func ProgramAccount(address, mint, program, controller Address) Account {
	return Account{
		Address:    address,
		Mint:       mint,
		Controller: controller,
		Program:    program,
	}
}

// Validate checks that the account can be opened.
func (a Account) Validate() error {
	switch {
	case a.Address.IsZero():
		return fmt.Errorf("%w: address is zero", ErrInvalidAccount)
	case a.Mint.IsZero():
		return fmt.Errorf("%w: mint is zero", ErrInvalidAccount)
	case a.Controller.IsZero():
		return fmt.Errorf("%w: controller is zero", ErrInvalidAccount)
	}

	return nil
}

// Transfer moves Amount units from one account to another.
type Transfer struct {
	From       Address
	To         Address
	Amount     uint64
	Authorizer Authorizer
}

// ValidateTransfer checks the balance rules of a transfer between two loaded accounts.
// Authorization is checked separately by Registry.Authorize.
func ValidateTransfer(from, to Account, amount uint64) error {
	if from.Address == to.Address {
		return ErrSameAccount
	}

	if from.Mint != to.Mint {
		return fmt.Errorf("%w: %s != %s", ErrMintMismatch, from.Mint, to.Mint)
	}

	if from.Balance < amount {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, from.Balance, amount)
	}

	if to.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}

	return nil
}
