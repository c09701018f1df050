package custody

import (
	"context"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMint    = NewAddress("mint:usd")
	testProgram = NewAddress("program:escrow")
	alice       = NewAddress("alice")
	bob         = NewAddress("bob")
)

type fixture struct {
	ledger  *MemoryLedger
	program *Program
	vault   Account
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	ctx := context.Background()
	registry := NewRegistry()

	program, err := registry.RegisterProgram(testProgram)
	require.NoError(t, err)

	ledger := NewMemoryLedger(registry)

	for _, owner := range []Address{alice, bob} {
		_, err := ledger.Open(ctx, UserAccount(owner, testMint))
		require.NoError(t, err)
	}

	vaultController := program.Derive([]byte("vault"))
	vault, err := ledger.Open(ctx, ProgramAccount(Derive(testProgram, []byte("deposit"), vaultController[:]), testMint, testProgram, vaultController))
	require.NoError(t, err)

	require.NoError(t, ledger.Credit(ctx, AssociatedAddress(alice, testMint), 1_000))

	return fixture{ledger: ledger, program: program, vault: vault}
}

func balance(t *testing.T, l *MemoryLedger, address Address) uint64 {
	t.Helper()

	account, err := l.Account(context.Background(), address)
	require.NoError(t, err)

	return account.Balance
}

func TestRegisterProgramOnce(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	_, err := registry.RegisterProgram(testProgram)
	require.NoError(t, err)

	_, err = registry.RegisterProgram(testProgram)
	assert.ErrorIs(t, err, ErrProgramRegistered)

	_, err = registry.RegisterProgram(ZeroAddress)
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestOpenRejectsDuplicatesAndInvalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Open(ctx, UserAccount(alice, testMint))
	assert.ErrorIs(t, err, ErrAccountExists)

	_, err = f.ledger.Open(ctx, Account{Address: NewAddress("x")})
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestUserTransfer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	from := AssociatedAddress(alice, testMint)

	err := f.ledger.Transfer(ctx, Transfer{From: from, To: f.vault.Address, Amount: 100, Authorizer: Signer(alice)})
	require.NoError(t, err)

	assert.Equal(t, uint64(900), balance(t, f.ledger, from))
	assert.Equal(t, uint64(100), balance(t, f.ledger, f.vault.Address))
}

func TestTransferAuthorization(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	aliceAccount := AssociatedAddress(alice, testMint)
	bobAccount := AssociatedAddress(bob, testMint)

	require.NoError(t, f.ledger.Transfer(ctx, Transfer{From: aliceAccount, To: f.vault.Address, Amount: 100, Authorizer: Signer(alice)}))

	otherRegistry := NewRegistry()
	impostor, err := otherRegistry.RegisterProgram(testProgram)
	require.NoError(t, err)

	tests := []struct {
		name     string
		transfer Transfer
		wantErr  error
	}{
		{
			name:     "wrong user signer",
			transfer: Transfer{From: aliceAccount, To: bobAccount, Amount: 1, Authorizer: Signer(bob)},
			wantErr:  ErrUnauthorized,
		},
		{
			name:     "nil authorizer",
			transfer: Transfer{From: aliceAccount, To: bobAccount, Amount: 1},
			wantErr:  ErrNilAuthorizer,
		},
		{
			name:     "user signer on program account",
			transfer: Transfer{From: f.vault.Address, To: bobAccount, Amount: 1, Authorizer: Signer(f.vault.Controller)},
			wantErr:  ErrUnauthorized,
		},
		{
			name:     "program signer with wrong seeds",
			transfer: Transfer{From: f.vault.Address, To: bobAccount, Amount: 1, Authorizer: f.program.Sign([]byte("other"))},
			wantErr:  ErrUnauthorized,
		},
		{
			name:     "capability from another registry",
			transfer: Transfer{From: f.vault.Address, To: bobAccount, Amount: 1, Authorizer: impostor.Sign([]byte("vault"))},
			wantErr:  ErrUnauthorized,
		},
		{
			name:     "program signer on user account",
			transfer: Transfer{From: aliceAccount, To: bobAccount, Amount: 1, Authorizer: f.program.Sign([]byte("vault"))},
			wantErr:  ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ledger.Transfer(ctx, tt.transfer)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	require.NoError(t, f.ledger.Transfer(ctx, Transfer{From: f.vault.Address, To: bobAccount, Amount: 100, Authorizer: f.program.Sign([]byte("vault"))}))
	assert.Equal(t, uint64(0), balance(t, f.ledger, f.vault.Address))
	assert.Equal(t, uint64(100), balance(t, f.ledger, bobAccount))
}

func TestTransferBalanceRules(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	aliceAccount := AssociatedAddress(alice, testMint)

	_, err := f.ledger.Open(ctx, UserAccount(bob, NewAddress("mint:eur")))
	require.NoError(t, err)

	err = f.ledger.Transfer(ctx, Transfer{From: aliceAccount, To: AssociatedAddress(bob, NewAddress("mint:eur")), Amount: 1, Authorizer: Signer(alice)})
	assert.ErrorIs(t, err, ErrMintMismatch)

	err = f.ledger.Transfer(ctx, Transfer{From: aliceAccount, To: f.vault.Address, Amount: 1_001, Authorizer: Signer(alice)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = f.ledger.Transfer(ctx, Transfer{From: aliceAccount, To: aliceAccount, Amount: 1, Authorizer: Signer(alice)})
	assert.ErrorIs(t, err, ErrSameAccount)

	err = f.ledger.Transfer(ctx, Transfer{From: aliceAccount, To: NewAddress("missing"), Amount: 1, Authorizer: Signer(alice)})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	assert.Equal(t, uint64(1_000), balance(t, f.ledger, aliceAccount))
}

func TestValidateTransferOverflow(t *testing.T) {
	t.Parallel()

	from := Account{Address: alice, Mint: testMint, Balance: 10}
	to := Account{Address: bob, Mint: testMint, Balance: math.MaxUint64 - 5}

	assert.ErrorIs(t, ValidateTransfer(from, to, 6), ErrBalanceOverflow)
	assert.NoError(t, ValidateTransfer(from, to, 5))
}

func TestSupplyIsConservedAcrossTransfers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	before := f.ledger.Supply(testMint)

	require.NoError(t, f.ledger.Transfer(ctx, Transfer{From: AssociatedAddress(alice, testMint), To: f.vault.Address, Amount: 250, Authorizer: Signer(alice)}))

	assert.True(t, before.Equal(f.ledger.Supply(testMint)))
	assert.True(t, decimal.NewFromInt(1_000).Equal(before))
}

func TestCloneAndReplace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	aliceAccount := AssociatedAddress(alice, testMint)

	staged := f.ledger.Clone()
	require.NoError(t, staged.Transfer(ctx, Transfer{From: aliceAccount, To: f.vault.Address, Amount: 10, Authorizer: Signer(alice)}))

	assert.Equal(t, uint64(1_000), balance(t, f.ledger, aliceAccount))

	f.ledger.Replace(staged)
	assert.Equal(t, uint64(990), balance(t, f.ledger, aliceAccount))
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ledger.Account(ctx, alice)
	assert.ErrorIs(t, err, context.Canceled)
}
