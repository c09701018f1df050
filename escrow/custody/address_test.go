package custody

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIsDeterministicAndSeedSensitive(t *testing.T) {
	t.Parallel()

	program := NewAddress("program")

	a := Derive(program, []byte("payment"), []byte{1})
	b := Derive(program, []byte("payment"), []byte{1})
	c := Derive(program, []byte("payment"), []byte{2})
	d := Derive(NewAddress("other"), []byte("payment"), []byte{1})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestDeriveSeedBoundaries(t *testing.T) {
	t.Parallel()

	program := NewAddress("program")

	assert.NotEqual(t,
		Derive(program, []byte("ab"), []byte("c")),
		Derive(program, []byte("a"), []byte("bc")),
	)
}

func TestAssociatedAddressDiffersPerMint(t *testing.T) {
	t.Parallel()

	owner := NewAddress("alice")

	assert.NotEqual(t, AssociatedAddress(owner, NewAddress("usd")), AssociatedAddress(owner, NewAddress("eur")))
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	original := NewAddress("alice")

	parsed, err := ParseAddress(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)

	_, err = ParseAddress("zz")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddress("abcd")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAddressText(t *testing.T) {
	t.Parallel()

	original := NewAddress("bob")

	text, err := original.MarshalText()
	require.NoError(t, err)

	var decoded Address
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, original, decoded)
	assert.True(t, ZeroAddress.IsZero())
	assert.False(t, decoded.IsZero())
}
