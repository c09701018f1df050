package payment_test

import (
	"context"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/LerianStudio/lib-escrow/escrow/memory"
	"github.com/LerianStudio/lib-escrow/escrow/payment"
)

func ExampleEngine_CreatePayment() {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	registry := custody.NewRegistry()
	program, _ := registry.RegisterProgram(custody.NewAddress("program:escrow"))
	store := memory.NewStore(custody.NewMemoryLedger(registry))

	engine, _ := payment.NewEngine(store, program, payment.WithClock(payment.ClockFunc(func() time.Time { return now })))

	manager := custody.NewAddress("manager")
	alice := custody.NewAddress("alice")
	bob := custody.NewAddress("bob")
	usd := custody.NewAddress("mint:usd")

	_, _ = store.Fund(ctx, alice, usd, 500)
	_, _ = store.Fund(ctx, bob, usd, 0)
	_, _ = engine.Initialize(ctx, payment.InitializeInput{Manager: manager, Authority: alice, System: custody.NewAddress("arbiter")})

	p, err := engine.CreatePayment(ctx, payment.CreatePaymentInput{
		Manager: manager,
		From:    alice,
		To:      bob,
		Mint:    usd,
		Amount:  100,
		Expiry:  now.Add(24 * time.Hour),
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	_, err = engine.Withdraw(ctx, payment.TransitionInput{Ref: p.Ref(), Caller: bob})
	fmt.Println(p.ID, p.Status)
	fmt.Println(err)

	// Output:
	// 0 ACTIVE
	// 0302: Time limit is not expired yet (expiry)
}
