package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/LerianStudio/lib-escrow/escrow/outbox"
	"github.com/LerianStudio/lib-escrow/escrow/payment"
	"github.com/google/uuid"
)

var (
	// ErrPaymentExists is returned when a payment slot is already occupied.
	ErrPaymentExists = errors.New("payment slot already occupied")
	// ErrLimitMustBePositive is returned by the outbox listings for a non-positive limit.
	ErrLimitMustBePositive = errors.New("limit must be greater than zero")
)

// Store keeps managers, payments, custody balances and outbox events in
// memory. It implements payment.Repository and outbox.Repository.
type Store struct {
	mu       sync.Mutex
	managers map[custody.Address]payment.Manager
	payments map[payment.Ref]payment.Payment
	ledger   *custody.MemoryLedger
	events   []*outbox.Event
}

var (
	_ payment.Repository = (*Store)(nil)
	_ outbox.Repository  = (*Store)(nil)
)

// NewStore creates an empty store over ledger. A nil ledger gets a fresh one
// with its own registry.
func NewStore(ledger *custody.MemoryLedger) *Store {
	if ledger == nil {
		ledger = custody.NewMemoryLedger(nil)
	}

	return &Store{
		managers: make(map[custody.Address]payment.Manager),
		payments: make(map[payment.Ref]payment.Payment),
		ledger:   ledger,
	}
}

// Ledger returns the committed custody ledger. Mutate it only through the
// store while units of work may be running.
func (s *Store) Ledger() *custody.MemoryLedger {
	return s.ledger
}

// Fund opens the end-user account of owner for mint when missing and credits amount.
func (s *Store) Fund(ctx context.Context, owner, mint custody.Address, amount uint64) (custody.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := custody.UserAccount(owner, mint)

	if _, err := s.ledger.Account(ctx, account.Address); errors.Is(err, custody.ErrAccountNotFound) {
		if _, err := s.ledger.Open(ctx, account); err != nil {
			return custody.Account{}, err
		}
	} else if err != nil {
		return custody.Account{}, err
	}

	if err := s.ledger.Credit(ctx, account.Address, amount); err != nil {
		return custody.Account{}, err
	}

	return s.ledger.Account(ctx, account.Address)
}

// RunInTx runs fn on a staged copy of the store and commits it when fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx payment.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &storeTx{
		managers: maps.Clone(s.managers),
		payments: maps.Clone(s.payments),
		ledger:   s.ledger.Clone(),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.managers = tx.managers
	s.payments = tx.payments
	s.ledger.Replace(tx.ledger)
	s.events = append(s.events, tx.events...)

	return nil
}

// Events returns copies of every stored outbox event in insertion order.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]outbox.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}

	return out
}

// ListPending claims PENDING and FAILED events, oldest first, moving them to
// PROCESSING. A claimed event is not returned again until published, failed
// or reclaimed by ResetStuckProcessing.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*outbox.Event, error) {
	return s.claim(ctx, limit, func(e *outbox.Event) bool {
		return e.Status == outbox.StatusPending || e.Status == outbox.StatusFailed
	}, nil)
}

// ResetStuckProcessing reclaims PROCESSING events last updated at or before
// processingBefore. Reclaiming counts one attempt; exhausted events become
// INVALID instead of being returned.
func (s *Store) ResetStuckProcessing(ctx context.Context, limit int, processingBefore time.Time, maxAttempts int) ([]*outbox.Event, error) {
	return s.claim(ctx, limit, func(e *outbox.Event) bool {
		return e.Status == outbox.StatusProcessing && !e.UpdatedAt.After(processingBefore)
	}, func(e *outbox.Event) bool {
		e.Attempts++

		if maxAttempts > 0 && e.Attempts >= maxAttempts {
			e.Status = outbox.StatusInvalid
			e.LastError = "processing timed out"

			return false
		}

		return true
	})
}

// claim moves up to limit matching events to PROCESSING. reclaim, when set,
// runs first and drops the event from the result by returning false.
func (s *Store) claim(ctx context.Context, limit int, match func(*outbox.Event) bool, reclaim func(*outbox.Event) bool) ([]*outbox.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	out := make([]*outbox.Event, 0, limit)

	for _, e := range s.events {
		if len(out) >= limit {
			break
		}

		if !match(e) {
			continue
		}

		e.UpdatedAt = now

		if reclaim != nil && !reclaim(e) {
			continue
		}

		e.Status = outbox.StatusProcessing
		copied := *e
		out = append(out, &copied)
	}

	return out, nil
}

// MarkPublished moves event id to PUBLISHED.
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	return s.transition(ctx, id, outbox.StatusPublished, func(e *outbox.Event) {
		at := publishedAt.UTC()
		e.PublishedAt = &at
		e.UpdatedAt = at
	})
}

// MarkFailed records a failed attempt on event id.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error {
	return s.update(ctx, id, func(e *outbox.Event) error {
		next := outbox.NextStatusAfterFailure(e.Attempts+1, maxAttempts)
		if !e.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", outbox.ErrOutboxTransitionInvalid, e.Status, next)
		}

		e.Attempts++
		e.Status = next
		e.LastError = errMsg
		e.UpdatedAt = time.Now().UTC()

		return nil
	})
}

// MarkInvalid moves event id to INVALID.
func (s *Store) MarkInvalid(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.transition(ctx, id, outbox.StatusInvalid, func(e *outbox.Event) {
		e.LastError = errMsg
		e.UpdatedAt = time.Now().UTC()
	})
}

func (s *Store) transition(ctx context.Context, id uuid.UUID, next outbox.EventStatus, apply func(*outbox.Event)) error {
	return s.update(ctx, id, func(e *outbox.Event) error {
		if !e.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", outbox.ErrOutboxTransitionInvalid, e.Status, next)
		}

		e.Status = next
		apply(e)

		return nil
	})
}

func (s *Store) update(ctx context.Context, id uuid.UUID, apply func(*outbox.Event) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ID == id {
			return apply(e)
		}
	}

	return fmt.Errorf("%w: %s", outbox.ErrOutboxEventNotFound, id)
}

type storeTx struct {
	managers map[custody.Address]payment.Manager
	payments map[payment.Ref]payment.Payment
	ledger   *custody.MemoryLedger
	events   []*outbox.Event
}

func (tx *storeTx) Manager(_ context.Context, address custody.Address) (payment.Manager, error) {
	manager, ok := tx.managers[address]
	if !ok {
		return payment.Manager{}, payment.ErrManagerNotFound
	}

	return manager, nil
}

// ManagerForUpdate matches Manager; the store mutex already serializes units of work.
func (tx *storeTx) ManagerForUpdate(ctx context.Context, address custody.Address) (payment.Manager, error) {
	return tx.Manager(ctx, address)
}

func (tx *storeTx) InsertManager(_ context.Context, manager payment.Manager) error {
	if _, exists := tx.managers[manager.Address]; exists {
		return payment.ErrManagerAlreadyExists
	}

	tx.managers[manager.Address] = manager

	return nil
}

func (tx *storeTx) UpdateManager(_ context.Context, manager payment.Manager) error {
	if _, exists := tx.managers[manager.Address]; !exists {
		return payment.ErrManagerNotFound
	}

	tx.managers[manager.Address] = manager

	return nil
}

func (tx *storeTx) Payment(_ context.Context, ref payment.Ref) (payment.Payment, error) {
	p, ok := tx.payments[ref]
	if !ok {
		return payment.Payment{}, payment.ErrPaymentNotFound
	}

	return p, nil
}

// PaymentForUpdate matches Payment.
func (tx *storeTx) PaymentForUpdate(ctx context.Context, ref payment.Ref) (payment.Payment, error) {
	return tx.Payment(ctx, ref)
}

func (tx *storeTx) InsertPayment(_ context.Context, p payment.Payment) error {
	if _, exists := tx.payments[p.Ref()]; exists {
		return fmt.Errorf("%w: %s/%d", ErrPaymentExists, p.Manager, p.ID)
	}

	tx.payments[p.Ref()] = p

	return nil
}

func (tx *storeTx) UpdatePayment(_ context.Context, p payment.Payment) error {
	if _, exists := tx.payments[p.Ref()]; !exists {
		return payment.ErrPaymentNotFound
	}

	tx.payments[p.Ref()] = p

	return nil
}

func (tx *storeTx) PaymentsByParty(_ context.Context, manager, party custody.Address) ([]payment.Payment, error) {
	var out []payment.Payment

	for ref, p := range tx.payments {
		if ref.Manager == manager && (p.From == party || p.To == party) {
			out = append(out, p)
		}
	}

	slices.SortFunc(out, func(a, b payment.Payment) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return out, nil
}

//nolint:ireturn
func (tx *storeTx) Custody() custody.Ledger {
	return tx.ledger
}

func (tx *storeTx) Emit(_ context.Context, event *outbox.Event) error {
	if event == nil {
		return outbox.ErrOutboxEventRequired
	}

	tx.events = append(tx.events, event)

	return nil
}
