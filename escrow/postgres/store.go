package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow"
	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry"
	"github.com/LerianStudio/lib-escrow/escrow/outbox"
	"github.com/LerianStudio/lib-escrow/escrow/payment"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultTransactionTimeout = 30 * time.Second

// pgUniqueViolation is the SQLSTATE of a duplicate key.
const pgUniqueViolation = "23505"

var (
	// ErrDBRequired is returned by NewStore without a database.
	ErrDBRequired = errors.New("postgres database is required")
	// ErrRegistryRequired is returned by NewStore without a custody registry.
	ErrRegistryRequired = errors.New("custody registry is required")
	// ErrPaymentExists is returned when a payment slot is already occupied.
	ErrPaymentExists = errors.New("payment slot already occupied")
	// ErrStateTransitionConflict is returned when an outbox update matched no row.
	ErrStateTransitionConflict = errors.New("outbox event state changed concurrently")
)

// DB is the part of *sql.DB the store needs.
type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store implements payment.Repository and outbox.Repository on PostgreSQL.
type Store struct {
	db                 DB
	registry           *custody.Registry
	transactionTimeout time.Duration
}

var (
	_ payment.Repository = (*Store)(nil)
	_ outbox.Repository  = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithTransactionTimeout bounds units of work whose context has no deadline.
func WithTransactionTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.transactionTimeout = timeout
		}
	}
}

// NewStore creates a store on db. registry authorizes custody transfers and
// must be the one that issued the engine's program capability.
func NewStore(db DB, registry *custody.Registry, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	if registry == nil {
		return nil, ErrRegistryRequired
	}

	s := &Store{db: db, registry: registry, transactionTimeout: defaultTransactionTimeout}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s, nil
}

// RunInTx runs fn in one READ COMMITTED transaction and commits when fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx payment.Tx) error) error {
	return s.withTx(ctx, "postgres.run_in_tx", func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &storeTx{tx: tx, ledger: &txLedger{tx: tx, registry: s.registry}})
	})
}

// Fund opens the end-user account of owner for mint when missing and credits
// amount. It records external deposits and seeds fixtures.
func (s *Store) Fund(ctx context.Context, owner, mint custody.Address, amount uint64) (custody.Account, error) {
	var funded custody.Account

	err := s.withTx(ctx, "postgres.fund", func(ctx context.Context, tx *sql.Tx) error {
		ledger := &txLedger{tx: tx, registry: s.registry}
		account := custody.UserAccount(owner, mint)

		if _, err := ledger.Open(ctx, account); err != nil && !errors.Is(err, custody.ErrAccountExists) {
			return err
		}

		if err := ledger.Credit(ctx, account.Address, amount); err != nil {
			return err
		}

		var err error
		funded, err = ledger.Account(ctx, account.Address)

		return err
	})

	return funded, err
}

// Account reads a committed custody account.
func (s *Store) Account(ctx context.Context, address custody.Address) (custody.Account, error) {
	var account custody.Account

	err := s.withTx(ctx, "postgres.account", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		account, err = (&txLedger{tx: tx, registry: s.registry}).Account(ctx, address)

		return err
	})

	return account, err
}

func (s *Store) withTx(ctx context.Context, spanName string, fn func(context.Context, *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger, tracer, _, _ := escrow.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.transactionTimeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		opentelemetry.HandleSpanError(&span, "failed to begin transaction", err)
		logger.Log(ctx, log.LevelError, "failed to begin transaction", log.ErrorDetail(sanitizeSensitiveError(err)))

		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		opentelemetry.HandleSpanError(&span, "failed to commit transaction", err)

		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

const (
	managerColumns = "address, authority, system, payment_count, created_at, updated_at"
	forUpdate      = " FOR UPDATE"
	paymentColumns = "manager, id, address, deposit, from_identity, to_identity, mint, amount, expiry, status, created_at, updated_at, settled_at"
)

type storeTx struct {
	tx     *sql.Tx
	ledger *txLedger
}

func (t *storeTx) Manager(ctx context.Context, address custody.Address) (payment.Manager, error) {
	return t.selectManager(ctx, address, "")
}

// ManagerForUpdate locks the manager row until the transaction ends.
func (t *storeTx) ManagerForUpdate(ctx context.Context, address custody.Address) (payment.Manager, error) {
	return t.selectManager(ctx, address, forUpdate)
}

func (t *storeTx) selectManager(ctx context.Context, address custody.Address, lock string) (payment.Manager, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+managerColumns+" FROM escrow_managers WHERE address = $1"+lock, addr(address))

	var m payment.Manager

	err := row.Scan(
		addressColumn{&m.Address},
		addressColumn{&m.Authority},
		addressColumn{&m.System},
		uint64Column{&m.PaymentCount},
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Manager{}, payment.ErrManagerNotFound
	}

	if err != nil {
		return payment.Manager{}, fmt.Errorf("select manager: %w", err)
	}

	m.CreatedAt, m.UpdatedAt = m.CreatedAt.UTC(), m.UpdatedAt.UTC()

	return m, nil
}

func (t *storeTx) InsertManager(ctx context.Context, m payment.Manager) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO escrow_managers ("+managerColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		addr(m.Address), addr(m.Authority), addr(m.System), numeric(m.PaymentCount), m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return payment.ErrManagerAlreadyExists
	}

	if err != nil {
		return fmt.Errorf("insert manager: %w", err)
	}

	return nil
}

func (t *storeTx) UpdateManager(ctx context.Context, m payment.Manager) error {
	result, err := t.tx.ExecContext(ctx,
		"UPDATE escrow_managers SET authority = $2, system = $3, payment_count = $4, updated_at = $5 WHERE address = $1",
		addr(m.Address), addr(m.Authority), addr(m.System), numeric(m.PaymentCount), m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update manager: %w", err)
	}

	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return payment.ErrManagerNotFound
	}

	return nil
}

func (t *storeTx) Payment(ctx context.Context, ref payment.Ref) (payment.Payment, error) {
	return t.selectPayment(ctx, ref, "")
}

// PaymentForUpdate locks the payment row until the transaction ends.
func (t *storeTx) PaymentForUpdate(ctx context.Context, ref payment.Ref) (payment.Payment, error) {
	return t.selectPayment(ctx, ref, forUpdate)
}

func (t *storeTx) selectPayment(ctx context.Context, ref payment.Ref, lock string) (payment.Payment, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM escrow_payments WHERE manager = $1 AND id = $2"+lock,
		addr(ref.Manager), numeric(ref.ID))

	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, payment.ErrPaymentNotFound
	}

	if err != nil {
		return payment.Payment{}, fmt.Errorf("select payment: %w", err)
	}

	return p, nil
}

func (t *storeTx) InsertPayment(ctx context.Context, p payment.Payment) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO escrow_payments ("+paymentColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)",
		addr(p.Manager), numeric(p.ID), addr(p.Address), addr(p.Deposit), addr(p.From), addr(p.To), addr(p.Mint),
		numeric(p.Amount), p.Expiry.UTC(), int16(p.Status), p.CreatedAt.UTC(), p.UpdatedAt.UTC(), nullTime(p.SettledAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%d", ErrPaymentExists, p.Manager, p.ID)
	}

	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (t *storeTx) UpdatePayment(ctx context.Context, p payment.Payment) error {
	result, err := t.tx.ExecContext(ctx,
		"UPDATE escrow_payments SET expiry = $3, status = $4, updated_at = $5, settled_at = $6 WHERE manager = $1 AND id = $2",
		addr(p.Manager), numeric(p.ID), p.Expiry.UTC(), int16(p.Status), p.UpdatedAt.UTC(), nullTime(p.SettledAt))
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return payment.ErrPaymentNotFound
	}

	return nil
}

func (t *storeTx) PaymentsByParty(ctx context.Context, manager, party custody.Address) ([]payment.Payment, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM escrow_payments WHERE manager = $1 AND (from_identity = $2 OR to_identity = $2) ORDER BY id",
		addr(manager), addr(party))
	if err != nil {
		return nil, fmt.Errorf("select payments by party: %w", err)
	}
	defer rows.Close()

	var out []payment.Payment

	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}

		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return out, nil
}

//nolint:ireturn
func (t *storeTx) Custody() custody.Ledger {
	return t.ledger
}

func (t *storeTx) Emit(ctx context.Context, event *outbox.Event) error {
	if event == nil {
		return outbox.ErrOutboxEventRequired
	}

	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO escrow_outbox_events ("+outboxColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		event.ID, event.EventType, event.AggregateID, event.CorrelationID, event.Payload, string(event.Status),
		event.Attempts, nullTime(event.PublishedAt), event.LastError, event.CreatedAt.UTC(), event.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

func scanPayment(row interface{ Scan(dest ...any) error }) (payment.Payment, error) {
	var (
		p         payment.Payment
		status    int16
		settledAt sql.NullTime
	)

	if err := row.Scan(
		addressColumn{&p.Manager},
		uint64Column{&p.ID},
		addressColumn{&p.Address},
		addressColumn{&p.Deposit},
		addressColumn{&p.From},
		addressColumn{&p.To},
		addressColumn{&p.Mint},
		uint64Column{&p.Amount},
		&p.Expiry,
		&status,
		&p.CreatedAt,
		&p.UpdatedAt,
		&settledAt,
	); err != nil {
		return payment.Payment{}, err
	}

	p.Status = payment.Status(status)
	if !p.Status.IsValid() {
		return payment.Payment{}, fmt.Errorf("stored payment %s/%d has unknown status %d", p.Manager, p.ID, status)
	}

	p.Expiry, p.CreatedAt, p.UpdatedAt = p.Expiry.UTC(), p.CreatedAt.UTC(), p.UpdatedAt.UTC()

	if settledAt.Valid {
		at := settledAt.Time.UTC()
		p.SettledAt = &at
	}

	return p, nil
}
