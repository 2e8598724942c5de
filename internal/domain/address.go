package domain

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressLength is the width of every account address and identity key.
const AddressLength = 32

// Address identifies an account. Human identities are ed25519 public keys;
// derived addresses are hashes that fall off the curve, so no private key
// exists for them.
type Address [AddressLength]byte

// ZeroAddress is the system program's address.
var ZeroAddress Address

// BytesToAddress copies b into an Address. It panics when len(b) is wrong.
func BytesToAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic(fmt.Sprintf("domain: address must be %d bytes, got %d", AddressLength, len(b)))
	}
	var a Address
	copy(a[:], b)
	return a
}

// ParseAddress decodes a 0x-prefixed hex string.
func ParseAddress(s string) (Address, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("domain: parse address %q: %w", s, err)
	}
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("domain: parse address %q: want %d bytes, got %d", s, AddressLength, len(b))
	}
	return BytesToAddress(b), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) Bytes() []byte { return a[:] }

func (a Address) IsZero() bool { return a == ZeroAddress }

func (a Address) String() string { return hexutil.Encode(a[:]) }

// Short returns an abbreviated form for log lines.
func (a Address) Short() string {
	s := a.String()
	return s[:10] + ".." + s[len(s)-4:]
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int { return bytes.Compare(a[:], b[:]) }

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
