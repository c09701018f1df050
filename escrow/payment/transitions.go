package payment

import (
	"context"
	"fmt"
	"time"

	constant "github.com/LerianStudio/lib-escrow/escrow/constants"
	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/LerianStudio/lib-escrow/escrow/log"
)

// CreatePayment opens an escrow funded from the sender account and returns
// it with its assigned id.
func (e *Engine) CreatePayment(ctx context.Context, in CreatePaymentInput) (Payment, error) {
	expiry := normalizeTime(in.Expiry)

	var precheck error

	switch {
	case in.Manager.IsZero():
		precheck = ErrInvalidInput.at("manager")
	case in.From.IsZero():
		precheck = ErrInvalidInput.at("from")
	case in.To.IsZero():
		precheck = ErrInvalidInput.at("to")
	case in.Mint.IsZero():
		precheck = ErrInvalidInput.at("mint")
	case in.Expiry.IsZero():
		precheck = ErrInvalidInput.at("expiry")
	case !wholeSecond(in.Expiry):
		precheck = ErrInvalidInput.withDetail("expiry", "expiry must be a whole second")
	case in.Amount == 0 && !e.allowZeroAmount:
		precheck = ErrInvalidAmount.at("amount")
	}

	var created Payment

	err := e.execute(ctx, managerScope("create_payment", in.Manager), precheck, func(ctx context.Context, u unit) error {
		manager, err := u.tx.ManagerForUpdate(ctx, in.Manager)
		if err != nil {
			return err
		}

		if !expiry.After(u.now) {
			return ErrTimeLimitAlreadyExpired.at("expiry")
		}

		ledger := u.tx.Custody()

		source, err := ownerAccount(ctx, ledger, in.From, in.Mint, "from")
		if err != nil {
			return err
		}

		program := e.program.ID()
		id := manager.PaymentCount
		address := PaymentAddress(program, manager.Address, id)
		deposit := DepositAddress(program, address)

		if _, err := ledger.Open(ctx, custody.ProgramAccount(deposit, in.Mint, program, address)); err != nil {
			return fmt.Errorf("open deposit account: %w", err)
		}

		if err := ledger.Transfer(ctx, custody.Transfer{
			From:       source.Address,
			To:         deposit,
			Amount:     in.Amount,
			Authorizer: custody.Signer(in.From),
		}); err != nil {
			return fmt.Errorf("fund deposit: %w", err)
		}

		if err := e.assertDepositBalance(ctx, u, ledger, deposit, in.Amount); err != nil {
			return err
		}

		payment := Payment{
			Manager:   manager.Address,
			ID:        id,
			Address:   address,
			Deposit:   deposit,
			From:      in.From,
			To:        in.To,
			Mint:      in.Mint,
			Amount:    in.Amount,
			Expiry:    expiry,
			Status:    StatusActive,
			CreatedAt: u.now,
			UpdatedAt: u.now,
		}

		if err := u.tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		manager.PaymentCount++
		manager.UpdatedAt = u.now

		if err := u.tx.UpdateManager(ctx, manager); err != nil {
			return err
		}

		created = payment

		return e.emit(ctx, u, constant.EventPaymentCreated, payment.Address, payment)
	})
	if err != nil {
		return Payment{}, err
	}

	if mErr := e.metrics.RecordPaymentCreated(ctx); mErr != nil {
		e.loggerFor(ctx).Log(ctx, log.LevelWarn, "failed to record payment created metric", log.Err(mErr))
	}

	return created, nil
}

// settlement describes one terminal transition.
type settlement struct {
	op        string
	status    Status
	eventType string
	// allows checks the caller role.
	allows func(caller custody.Address, p Payment, m Manager) bool
	// checkTime is nil when the transition has no time condition.
	checkTime func(now time.Time, p Payment) error
	// recipient names the identity receiving the deposit.
	recipient func(p Payment, m Manager) (custody.Address, string)
}

func beforeExpiry(now time.Time, p Payment) error {
	if !now.Before(p.Expiry) {
		return ErrTimeLimitAlreadyExpired.at("expiry")
	}

	return nil
}

// Invalidate sends the deposit to the manager system. Only the sender may
// call it, strictly before the expiry.
func (e *Engine) Invalidate(ctx context.Context, in TransitionInput) (Payment, error) {
	return e.settle(ctx, in, settlement{
		op:        "invalidate",
		status:    StatusInvalidated,
		eventType: constant.EventPaymentInvalidated,
		allows: func(caller custody.Address, p Payment, _ Manager) bool {
			return caller == p.From
		},
		checkTime: beforeExpiry,
		recipient: func(_ Payment, m Manager) (custody.Address, string) {
			return m.System, "system"
		},
	})
}

// Reject refunds the sender. Only the recipient may call it, strictly before
// the expiry.
func (e *Engine) Reject(ctx context.Context, in TransitionInput) (Payment, error) {
	return e.settle(ctx, in, settlement{
		op:        "reject",
		status:    StatusRejected,
		eventType: constant.EventPaymentRejected,
		allows: func(caller custody.Address, p Payment, _ Manager) bool {
			return caller == p.To
		},
		checkTime: beforeExpiry,
		recipient: func(p Payment, _ Manager) (custody.Address, string) {
			return p.From, "from"
		},
	})
}

// Withdraw pays the recipient. Only the recipient may call it, at or after
// the expiry.
func (e *Engine) Withdraw(ctx context.Context, in TransitionInput) (Payment, error) {
	return e.settle(ctx, in, settlement{
		op:        "withdraw",
		status:    StatusWithdrawn,
		eventType: constant.EventPaymentWithdrawn,
		allows: func(caller custody.Address, p Payment, _ Manager) bool {
			return caller == p.To
		},
		checkTime: func(now time.Time, p Payment) error {
			if now.Before(p.Expiry) {
				return ErrTimeLimitNotExpired.at("expiry")
			}

			return nil
		},
		recipient: func(p Payment, _ Manager) (custody.Address, string) {
			return p.To, "to"
		},
	})
}

// Finalize pays the recipient regardless of the expiry. The caller is checked
// against the engine FinalizePolicy.
func (e *Engine) Finalize(ctx context.Context, in TransitionInput) (Payment, error) {
	policy := e.finalizePolicy

	return e.settle(ctx, in, settlement{
		op:        "finalize",
		status:    StatusFinalized,
		eventType: constant.EventPaymentFinalized,
		allows:    policy.allows,
		recipient: func(p Payment, _ Manager) (custody.Address, string) {
			return p.To, "to"
		},
	})
}

func (e *Engine) settle(ctx context.Context, in TransitionInput, s settlement) (Payment, error) {
	var settled Payment

	err := e.execute(ctx, paymentScope(s.op, in.Ref), validateRef(in.Ref), func(ctx context.Context, u unit) error {
		manager, payment, err := e.load(ctx, u, in.Ref, in.Expect)
		if err != nil {
			return err
		}

		ledger := u.tx.Custody()
		owner, field := s.recipient(payment, manager)

		destination, err := ownerAccount(ctx, ledger, owner, payment.Mint, field)
		if err != nil {
			return err
		}

		if !payment.Status.CanTransitionTo(s.status) {
			return ErrInvalidStatus.withDetail("status", "payment is "+payment.Status.String())
		}

		if !s.allows(in.Caller, payment, manager) {
			return ErrUnauthorized.withDetail("caller", s.op+" is not permitted for this caller")
		}

		if s.checkTime != nil {
			if err := s.checkTime(u.now, payment); err != nil {
				return err
			}
		}

		if err := ledger.Transfer(ctx, custody.Transfer{
			From:       payment.Deposit,
			To:         destination.Address,
			Amount:     payment.Amount,
			Authorizer: payoutAuthorizer(e.program, payment.Ref()),
		}); err != nil {
			return fmt.Errorf("release deposit: %w", err)
		}

		if err := e.assertDepositBalance(ctx, u, ledger, payment.Deposit, 0); err != nil {
			return err
		}

		settledAt := u.now
		payment.Status = s.status
		payment.UpdatedAt = u.now
		payment.SettledAt = &settledAt

		if err := u.tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		settled = payment

		return e.emit(ctx, u, s.eventType, payment.Address, payment)
	})
	if err != nil {
		return Payment{}, err
	}

	if mErr := e.metrics.RecordPaymentSettled(ctx, settled.Status.String()); mErr != nil {
		e.loggerFor(ctx).Log(ctx, log.LevelWarn, "failed to record payment settled metric", log.Err(mErr))
	}

	return settled, nil
}

// Extend moves the expiry forward. Only the recipient may call it. The new
// expiry must be strictly after the current one and strictly after now.
func (e *Engine) Extend(ctx context.Context, in ExtendInput) (Payment, error) {
	newExpiry := normalizeTime(in.NewExpiry)

	precheck := validateRef(in.Ref)
	switch {
	case precheck != nil:
	case in.NewExpiry.IsZero():
		precheck = ErrInvalidInput.at("newExpiry")
	case !wholeSecond(in.NewExpiry):
		precheck = ErrInvalidInput.withDetail("newExpiry", "new expiry must be a whole second")
	}

	var extended Payment

	err := e.execute(ctx, paymentScope("extend", in.Ref), precheck, func(ctx context.Context, u unit) error {
		_, payment, err := e.load(ctx, u, in.Ref, in.Expect)
		if err != nil {
			return err
		}

		if payment.Status != StatusActive {
			return ErrInvalidStatus.withDetail("status", "payment is "+payment.Status.String())
		}

		if in.Caller != payment.To {
			return ErrUnauthorized.withDetail("caller", "extend is not permitted for this caller")
		}

		if !newExpiry.After(payment.Expiry) {
			return ErrInvalidNewExpiry.at("newExpiry")
		}

		if !newExpiry.After(u.now) {
			return ErrTimeLimitAlreadyExpired.at("newExpiry")
		}

		payment.Expiry = newExpiry
		payment.UpdatedAt = u.now

		if err := u.tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		extended = payment

		return e.emit(ctx, u, constant.EventPaymentExtended, payment.Address, payment)
	})
	if err != nil {
		return Payment{}, err
	}

	return extended, nil
}

// GetPayment returns the payment stored at ref.
func (e *Engine) GetPayment(ctx context.Context, ref Ref) (Payment, error) {
	var found Payment

	err := e.execute(ctx, readScope("get_payment", ref.Manager, &ref), validateRef(ref), func(ctx context.Context, u unit) error {
		payment, err := u.tx.Payment(ctx, ref)
		found = payment

		return err
	})
	if err != nil {
		return Payment{}, err
	}

	return found, nil
}

// PaymentsByParty lists the payments of manager sent or received by party.
func (e *Engine) PaymentsByParty(ctx context.Context, manager, party custody.Address) ([]Payment, error) {
	var precheck error

	switch {
	case manager.IsZero():
		precheck = ErrInvalidInput.at("manager")
	case party.IsZero():
		precheck = ErrInvalidInput.at("party")
	}

	var found []Payment

	err := e.execute(ctx, readScope("payments_by_party", manager, nil), precheck, func(ctx context.Context, u unit) error {
		payments, err := u.tx.PaymentsByParty(ctx, manager, party)
		found = payments

		return err
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}

func (e *Engine) assertDepositBalance(ctx context.Context, u unit, ledger custody.Ledger, deposit custody.Address, want uint64) error {
	account, err := ledger.Account(ctx, deposit)
	if err != nil {
		return fmt.Errorf("load deposit account: %w", err)
	}

	return u.asserter.Equal(ctx, want, account.Balance, "deposit balance mismatch", "deposit", deposit.String())
}
