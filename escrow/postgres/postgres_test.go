//go:build unit

package postgres

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"testing"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64Column(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     any
		want    uint64
		wantErr bool
	}{
		{name: "zero string", src: "0", want: 0},
		{name: "max uint64 bytes", src: []byte("18446744073709551615"), want: math.MaxUint64},
		{name: "int64", src: int64(42), want: 42},
		{name: "negative", src: "-1", wantErr: true},
		{name: "overflow", src: "18446744073709551616", wantErr: true},
		{name: "fraction", src: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got uint64

			err := uint64Column{&got}.Scan(tt.src)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNumericRoundTripsFullRange(t *testing.T) {
	t.Parallel()

	for _, v := range []uint64{0, 1, math.MaxInt64, math.MaxInt64 + 1, math.MaxUint64} {
		got, err := toUint64(numeric(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err := toUint64(decimal.NewFromInt(-5))
	assert.Error(t, err)
}

func TestAddressColumn(t *testing.T) {
	t.Parallel()

	want := custody.NewAddress("alice")

	var got custody.Address
	require.NoError(t, addressColumn{&got}.Scan(addr(want)))
	assert.Equal(t, want, got)

	assert.ErrorIs(t, addressColumn{&got}.Scan([]byte{1, 2, 3}), custody.ErrInvalidAddress)
	assert.Error(t, addressColumn{&got}.Scan("not bytes"))
}

func TestSanitizeSensitiveError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "url credentials", err: errors.New("dial postgres://user:secret@db:5432/escrow failed"), want: "dial postgres://***@db:5432/escrow failed"},
		{name: "keyword password", err: errors.New("host=db password=secret sslmode=disable"), want: "host=db password=*** sslmode=disable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, sanitizeSensitiveError(tt.err))
		})
	}
}

func TestValidateDBName(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateDBName("escrow"))
	assert.NoError(t, validateDBName("_escrow_2"))
	assert.Error(t, validateDBName(""))
	assert.Error(t, validateDBName("escrow;drop"))
	assert.Error(t, validateDBName("1escrow"))
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	up, err := fs.ReadFile(migrationFiles, "migrations/000001_create_escrow_tables.up.sql")
	require.NoError(t, err)

	for _, table := range []string{"escrow_managers", "escrow_payments", "custody_accounts", "escrow_outbox_events"} {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table)
	}

	_, err = fs.ReadFile(migrationFiles, "migrations/000001_create_escrow_tables.down.sql")
	require.NoError(t, err)

	processing, err := fs.ReadFile(migrationFiles, "migrations/000002_outbox_processing_status.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(processing), "'PROCESSING'")

	_, err = fs.ReadFile(migrationFiles, "migrations/000002_outbox_processing_status.down.sql")
	require.NoError(t, err)
}

func TestNewStorePreconditions(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil, custody.NewRegistry())
	assert.ErrorIs(t, err, ErrDBRequired)

	_, err = NewStore(nilDB{}, nil)
	assert.ErrorIs(t, err, ErrRegistryRequired)

	store, err := NewStore(nilDB{}, custody.NewRegistry(), WithTransactionTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, defaultTransactionTimeout, store.transactionTimeout)

	_, err = store.ListPending(context.Background(), 0)
	assert.ErrorIs(t, err, ErrLimitMustBePositive)

	_, err = store.ResetStuckProcessing(context.Background(), 0, time.Now(), 3)
	assert.ErrorIs(t, err, ErrLimitMustBePositive)
}

func TestConnectionPreconditions(t *testing.T) {
	t.Parallel()

	var nilConn *Connection
	assert.ErrorIs(t, nilConn.Connect(context.Background()), ErrNilConnection)

	conn := &Connection{}
	assert.ErrorIs(t, conn.Connect(context.Background()), ErrPrimaryDSNRequired)

	_, err := conn.Primary()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = conn.Resolver()
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, conn.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, (&Connection{PrimaryDSN: "postgres://h/db"}).Connect(ctx), context.Canceled)
}

// nilDB satisfies DB for constructor checks; its methods are never called.
type nilDB struct{ DB }
