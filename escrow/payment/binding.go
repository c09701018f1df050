package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
)

// load reads the manager and payment addressed by ref and checks that the
// stored linkage matches its derivation and the caller expectations.
func (e *Engine) load(ctx context.Context, u unit, ref Ref, expect Binding) (Manager, Payment, error) {
	manager, err := u.tx.Manager(ctx, ref.Manager)
	if err != nil {
		return Manager{}, Payment{}, err
	}

	payment, err := u.tx.PaymentForUpdate(ctx, ref)
	if err != nil {
		return Manager{}, Payment{}, err
	}

	if err := e.checkBinding(ctx, u.tx.Custody(), ref, payment, expect); err != nil {
		return Manager{}, Payment{}, err
	}

	return manager, payment, nil
}

func (e *Engine) checkBinding(ctx context.Context, ledger custody.Ledger, ref Ref, p Payment, expect Binding) error {
	program := e.program.ID()

	switch {
	case p.Manager != ref.Manager || p.ID != ref.ID:
		return ErrBindingMismatch.withDetail("ref", "stored payment belongs to another slot")
	case p.Address != PaymentAddress(program, p.Manager, p.ID):
		return ErrBindingMismatch.withDetail("address", "payment address does not match its derivation")
	case p.Deposit != DepositAddress(program, p.Address):
		return ErrBindingMismatch.withDetail("deposit", "deposit address does not match its derivation")
	case !expect.From.IsZero() && expect.From != p.From:
		return ErrBindingMismatch.withDetail("from", "sender does not match the payment")
	case !expect.To.IsZero() && expect.To != p.To:
		return ErrBindingMismatch.withDetail("to", "recipient does not match the payment")
	case !expect.Mint.IsZero() && expect.Mint != p.Mint:
		return ErrBindingMismatch.withDetail("mint", "mint does not match the payment")
	}

	deposit, err := ledger.Account(ctx, p.Deposit)
	if errors.Is(err, custody.ErrAccountNotFound) {
		return ErrBindingMismatch.withDetail("deposit", "deposit account does not exist")
	}

	if err != nil {
		return fmt.Errorf("load deposit account: %w", err)
	}

	if deposit.Mint != p.Mint || deposit.Program != program || deposit.Controller != p.Address {
		return ErrBindingMismatch.withDetail("deposit", "deposit account is not bound to this payment")
	}

	return nil
}

// ownerAccount returns the account of owner for mint, which must exist.
func ownerAccount(ctx context.Context, ledger custody.Ledger, owner, mint custody.Address, field string) (custody.Account, error) {
	account, err := ledger.Account(ctx, custody.AssociatedAddress(owner, mint))
	if errors.Is(err, custody.ErrAccountNotFound) {
		return custody.Account{}, ErrBindingMismatch.withDetail(field, "no account for the payment mint")
	}

	if err != nil {
		return custody.Account{}, fmt.Errorf("load %s account: %w", field, err)
	}

	if account.Mint != mint || account.Controller != owner || account.ProgramControlled() {
		return custody.Account{}, ErrBindingMismatch.withDetail(field, "account is not the owner account for the payment mint")
	}

	return account, nil
}

func validateRef(ref Ref) error {
	if ref.Manager.IsZero() {
		return ErrInvalidInput.at("ref.manager")
	}

	return nil
}
