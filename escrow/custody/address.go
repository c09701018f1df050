package custody

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// AddressLength is the byte length of an Address.
const AddressLength = 32

// ErrInvalidAddress is returned when parsing a malformed address.
var ErrInvalidAddress = errors.New("invalid address")

// Address identifies an identity, a mint or an account.
type Address [AddressLength]byte

// ZeroAddress is the null identity.
var ZeroAddress Address

// AssociatedProgramID owns the derivation of end-user accounts.
var AssociatedProgramID = NewAddress("escrow/associated-account-program")

// NewAddress derives a stable address from a human readable name.
// It exists for fixtures and well-known ids.
func NewAddress(name string) Address {
	return sha256.Sum256([]byte(name))
}

// ParseAddress decodes a 64 character hex string.
func ParseAddress(s string) (Address, error) {
	var a Address

	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	if len(raw) != AddressLength {
		return a, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidAddress, AddressLength, len(raw))
	}

	copy(a[:], raw)

	return a, nil
}

// String returns the lowercase hex encoding.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether a is the null identity.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

const deriveDomain = "escrow/program-derived-address"

// Derive computes the program-controlled address for program and seeds.
// Seeds are length prefixed, so ("ab","c") and ("a","bc") never collide.
func Derive(program Address, seeds ...[]byte) Address {
	h := sha256.New()
	h.Write([]byte(deriveDomain))
	h.Write(program[:])

	var size [4]byte

	for _, seed := range seeds {
		binary.BigEndian.PutUint32(size[:], uint32(len(seed)))
		h.Write(size[:])
		h.Write(seed)
	}

	var out Address
	copy(out[:], h.Sum(nil))

	return out
}

// AssociatedAddress returns the end-user account address of owner for mint.
func AssociatedAddress(owner, mint Address) Address {
	return Derive(AssociatedProgramID, owner[:], mint[:])
}
