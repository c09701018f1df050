package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/LerianStudio/lib-escrow/escrow/memory"
	"github.com/LerianStudio/lib-escrow/escrow/payment"
	"github.com/LerianStudio/lib-escrow/escrow/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineTakesPaymentLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client, err := redis.New(ctx, redis.Config{Topology: redis.Topology{Standalone: &redis.StandaloneTopology{Address: mr.Addr()}}})
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	locker, err := redis.NewRedisLockManager(client)
	require.NoError(t, err)

	registry := custody.NewRegistry()
	program, err := registry.RegisterProgram(custody.NewAddress("program:escrow"))
	require.NoError(t, err)

	store := memory.NewStore(custody.NewMemoryLedger(registry))
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	engine, err := payment.NewEngine(store, program,
		payment.WithLocker(locker),
		payment.WithClock(payment.ClockFunc(func() time.Time { return now })),
	)
	require.NoError(t, err)

	manager := custody.NewAddress("manager")
	from := custody.NewAddress("from")
	to := custody.NewAddress("to")
	mint := custody.NewAddress("mint")

	_, err = store.Fund(ctx, from, mint, 10)
	require.NoError(t, err)
	_, err = store.Fund(ctx, to, mint, 0)
	require.NoError(t, err)

	_, err = engine.Initialize(ctx, payment.InitializeInput{Manager: manager, Authority: from, System: custody.NewAddress("system")})
	require.NoError(t, err)

	p, err := engine.CreatePayment(ctx, payment.CreatePaymentInput{Manager: manager, From: from, To: to, Mint: mint, Amount: 10, Expiry: now.Add(time.Hour)})
	require.NoError(t, err)

	lockKey := "lock:escrow:payment:" + manager.String() + ":0"

	handle, ok, err := locker.TryLock(ctx, lockKey)
	require.NoError(t, err)
	require.True(t, ok)

	blocked, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	_, err = engine.Reject(blocked, payment.TransitionInput{Ref: p.Ref(), Caller: to})
	require.Error(t, err, "reject must wait for the payment lock")

	require.NoError(t, handle.Unlock(ctx))

	rejected, err := engine.Reject(ctx, payment.TransitionInput{Ref: p.Ref(), Caller: to})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRejected, rejected.Status)
	assert.False(t, mr.Exists(lockKey))
}
