// Package codec encodes account data as deterministic CBOR behind an 8-byte
// type discriminator. Decoding checks the discriminator first, so an account
// of one record type can never be read as another.
package codec

import (
	"bytes"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// DiscriminatorLen is the width of the type tag at the start of account data.
const DiscriminatorLen = 8

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 4096,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor dec mode: %v", err))
	}
}

// Discriminator returns the tag for a record type name.
func Discriminator(name string) []byte {
	return ethcrypto.Keccak256([]byte("account:" + name))[:DiscriminatorLen]
}

// Encode serialises v behind the tag for name.
func Encode(name string, v any) ([]byte, error) {
	body, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", name, err)
	}
	out := make([]byte, 0, DiscriminatorLen+len(body))
	out = append(out, Discriminator(name)...)
	return append(out, body...), nil
}

// Decode reads data tagged as name into v. A missing or foreign tag is a
// consistency failure.
func Decode(name string, data []byte, v any) error {
	if len(data) < DiscriminatorLen || !bytes.Equal(data[:DiscriminatorLen], Discriminator(name)) {
		return domain.Errorf(domain.KindConsistency, "account data is not a %s", name)
	}
	if err := decMode.Unmarshal(data[DiscriminatorLen:], v); err != nil {
		return domain.Errorf(domain.KindConsistency, "decode %s: %v", name, err)
	}
	return nil
}

// Is reports whether data carries the tag for name.
func Is(name string, data []byte) bool {
	return len(data) >= DiscriminatorLen && bytes.Equal(data[:DiscriminatorLen], Discriminator(name))
}
