package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
)

const accountColumns = "address, mint, controller, program, balance"

// txLedger is the custody ledger of one SQL transaction. Transfers lock both
// rows in address order so concurrent transfers cannot deadlock.
type txLedger struct {
	tx       *sql.Tx
	registry *custody.Registry
}

var _ custody.Ledger = (*txLedger)(nil)

func (l *txLedger) Open(ctx context.Context, account custody.Account) (custody.Account, error) {
	if err := account.Validate(); err != nil {
		return custody.Account{}, err
	}

	result, err := l.tx.ExecContext(ctx,
		"INSERT INTO custody_accounts ("+accountColumns+") VALUES ($1, $2, $3, $4, 0) ON CONFLICT (address) DO NOTHING",
		addr(account.Address), addr(account.Mint), addr(account.Controller), addr(account.Program))
	if err != nil {
		return custody.Account{}, fmt.Errorf("insert custody account: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return custody.Account{}, fmt.Errorf("rows affected: %w", err)
	}

	if inserted == 0 {
		return custody.Account{}, fmt.Errorf("%w: %s", custody.ErrAccountExists, account.Address)
	}

	account.Balance = 0

	return account, nil
}

func (l *txLedger) Account(ctx context.Context, address custody.Address) (custody.Account, error) {
	return l.load(ctx, address, false)
}

func (l *txLedger) load(ctx context.Context, address custody.Address, forUpdate bool) (custody.Account, error) {
	query := "SELECT " + accountColumns + " FROM custody_accounts WHERE address = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	account, err := scanAccount(l.tx.QueryRowContext(ctx, query, addr(address)))
	if errors.Is(err, sql.ErrNoRows) {
		return custody.Account{}, fmt.Errorf("%w: %s", custody.ErrAccountNotFound, address)
	}

	if err != nil {
		return custody.Account{}, fmt.Errorf("select custody account: %w", err)
	}

	return account, nil
}

func (l *txLedger) Transfer(ctx context.Context, transfer custody.Transfer) error {
	first, second := transfer.From, transfer.To
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}

	locked := make(map[custody.Address]custody.Account, 2)

	for _, address := range []custody.Address{first, second} {
		if _, seen := locked[address]; seen {
			continue
		}

		account, err := l.load(ctx, address, true)
		if err != nil {
			return err
		}

		locked[address] = account
	}

	from, to := locked[transfer.From], locked[transfer.To]

	if err := l.registry.Authorize(from, transfer.Authorizer); err != nil {
		return err
	}

	if err := custody.ValidateTransfer(from, to, transfer.Amount); err != nil {
		return err
	}

	if err := l.setBalance(ctx, from.Address, from.Balance-transfer.Amount); err != nil {
		return err
	}

	return l.setBalance(ctx, to.Address, to.Balance+transfer.Amount)
}

// Credit adds amount to an existing account without a source.
func (l *txLedger) Credit(ctx context.Context, address custody.Address, amount uint64) error {
	account, err := l.load(ctx, address, true)
	if err != nil {
		return err
	}

	if account.Balance > ^uint64(0)-amount {
		return custody.ErrBalanceOverflow
	}

	return l.setBalance(ctx, address, account.Balance+amount)
}

func (l *txLedger) setBalance(ctx context.Context, address custody.Address, balance uint64) error {
	if _, err := l.tx.ExecContext(ctx,
		"UPDATE custody_accounts SET balance = $1 WHERE address = $2", numeric(balance), addr(address)); err != nil {
		return fmt.Errorf("update custody balance: %w", err)
	}

	return nil
}

func scanAccount(row interface{ Scan(dest ...any) error }) (custody.Account, error) {
	var account custody.Account

	err := row.Scan(
		addressColumn{&account.Address},
		addressColumn{&account.Mint},
		addressColumn{&account.Controller},
		addressColumn{&account.Program},
		uint64Column{&account.Balance},
	)

	return account, err
}
