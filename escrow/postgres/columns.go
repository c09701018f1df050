package postgres

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/shopspring/decimal"
)

// NUMERIC(20,0) columns hold the full uint64 range.

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

func numeric(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func toUint64(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() || d.GreaterThan(maxUint64) || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("numeric %s out of uint64 range", d)
	}

	return d.BigInt().Uint64(), nil
}

// uint64Column scans a NUMERIC(20,0) column.
type uint64Column struct {
	dst *uint64
}

func (c uint64Column) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}

	v, err := toUint64(d)
	if err != nil {
		return err
	}

	*c.dst = v

	return nil
}

// addressColumn scans a 32-byte BYTEA column.
type addressColumn struct {
	dst *custody.Address
}

func (c addressColumn) Scan(src any) error {
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("address column: unexpected type %T", src)
	}

	if len(raw) != custody.AddressLength {
		return fmt.Errorf("%w: want %d bytes, got %d", custody.ErrInvalidAddress, custody.AddressLength, len(raw))
	}

	copy(c.dst[:], raw)

	return nil
}

var (
	_ sql.Scanner = uint64Column{}
	_ sql.Scanner = addressColumn{}
)

// addr returns the BYTEA parameter for a.
func addr(a custody.Address) []byte {
	return a[:]
}

// nullTime maps a nil pointer to NULL.
func nullTime(t *time.Time) driver.Valuer {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}
