package payment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/LerianStudio/lib-escrow/escrow/memory"
	"github.com/LerianStudio/lib-escrow/escrow/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRepository notes which lookups each unit of work performs.
type recordingRepository struct {
	payment.Repository

	mu      sync.Mutex
	lookups []string
}

func (r *recordingRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx payment.Tx) error) error {
	return r.Repository.RunInTx(ctx, func(ctx context.Context, tx payment.Tx) error {
		return fn(ctx, &recordingTx{Tx: tx, repo: r})
	})
}

func (r *recordingRepository) note(lookup string) {
	r.mu.Lock()
	r.lookups = append(r.lookups, lookup)
	r.mu.Unlock()
}

func (r *recordingRepository) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.lookups
	r.lookups = nil

	return out
}

type recordingTx struct {
	payment.Tx

	repo *recordingRepository
}

func (tx *recordingTx) Manager(ctx context.Context, address custody.Address) (payment.Manager, error) {
	tx.repo.note("manager")
	return tx.Tx.Manager(ctx, address)
}

func (tx *recordingTx) ManagerForUpdate(ctx context.Context, address custody.Address) (payment.Manager, error) {
	tx.repo.note("manager for update")
	return tx.Tx.ManagerForUpdate(ctx, address)
}

func (tx *recordingTx) Payment(ctx context.Context, ref payment.Ref) (payment.Payment, error) {
	tx.repo.note("payment")
	return tx.Tx.Payment(ctx, ref)
}

func (tx *recordingTx) PaymentForUpdate(ctx context.Context, ref payment.Ref) (payment.Payment, error) {
	tx.repo.note("payment for update")
	return tx.Tx.PaymentForUpdate(ctx, ref)
}

func TestOnlyManagerMutationsLockTheManager(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := custody.NewRegistry()
	program, err := registry.RegisterProgram(custody.NewAddress("program:escrow"))
	require.NoError(t, err)

	store := memory.NewStore(custody.NewMemoryLedger(registry))
	repo := &recordingRepository{Repository: store}
	clock := &manualClock{now: t0}

	engine, err := payment.NewEngine(repo, program, payment.WithClock(clock))
	require.NoError(t, err)

	manager := custody.NewAddress("manager")
	authority := custody.NewAddress("authority")
	from := custody.NewAddress("from")
	to := custody.NewAddress("to")
	mint := custody.NewAddress("mint:usdc")

	_, err = store.Fund(ctx, from, mint, 100)
	require.NoError(t, err)
	_, err = store.Fund(ctx, to, mint, 0)
	require.NoError(t, err)

	_, err = engine.Initialize(ctx, payment.InitializeInput{Manager: manager, Authority: authority, System: custody.NewAddress("system")})
	require.NoError(t, err)
	repo.take()

	created, err := engine.CreatePayment(ctx, payment.CreatePaymentInput{
		Manager: manager, From: from, To: to, Mint: mint, Amount: 10, Expiry: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"manager for update"}, repo.take(), "create_payment")

	_, err = engine.UpdateSystem(ctx, payment.UpdateSystemInput{Manager: manager, Caller: authority, NewSystem: custody.NewAddress("arbiter")})
	require.NoError(t, err)
	assert.Equal(t, []string{"manager for update"}, repo.take(), "update_system")

	transition := payment.TransitionInput{Ref: created.Ref(), Caller: to}

	_, err = engine.Extend(ctx, payment.ExtendInput{TransitionInput: transition, NewExpiry: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"manager", "payment for update"}, repo.take(), "extend")

	_, err = engine.Reject(ctx, transition)
	require.NoError(t, err)
	assert.Equal(t, []string{"manager", "payment for update"}, repo.take(), "reject")

	_, err = engine.GetManager(ctx, manager)
	require.NoError(t, err)
	assert.Equal(t, []string{"manager"}, repo.take(), "get_manager")

	_, err = engine.GetPayment(ctx, created.Ref())
	require.NoError(t, err)
	assert.Equal(t, []string{"payment"}, repo.take(), "get_payment")
}
