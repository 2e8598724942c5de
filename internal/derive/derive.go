// Package derive maps seed sequences to control addresses that no keypair
// can sign for. An address is derived as
//
//	keccak256(len(seed_0) || seed_0 || ... || len(seed_n) || seed_n || programID || "ProgramDerivedAddress")
//
// where each length is a single byte, so no two seed sequences share a
// preimage. The result is only accepted when it is not a valid ed25519
// point.
//
// FindAddress searches bumps from 255 downward and returns the first
// off-curve result; records store that bump so later instructions can
// re-derive the same address with CreateAddress without searching.
package derive

import (
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/custodex/internal/domain"
)

const (
	// MaxSeeds bounds the number of seeds, including the bump.
	MaxSeeds = 16
	// MaxSeedLen bounds a single seed.
	MaxSeedLen = 32

	marker = "ProgramDerivedAddress"
)

var (
	// ErrOnCurve means the seeds hash to a point with a possible private key.
	ErrOnCurve = errors.New("derive: address lies on the ed25519 curve")
	// ErrNoBump means no bump in [0,255] produced an off-curve address.
	ErrNoBump = errors.New("derive: no viable bump seed")
)

// ProgramID names a program. Program addresses are plain hashes of their
// name; they never sign anything.
func ProgramID(name string) domain.Address {
	return domain.BytesToAddress(ethcrypto.Keccak256([]byte("custodex/program/" + name)))
}

// CreateAddress derives the address for an exact seed sequence (bump
// included).
func CreateAddress(seeds [][]byte, program domain.Address) (domain.Address, error) {
	if len(seeds) > MaxSeeds {
		return domain.Address{}, fmt.Errorf("derive: %d seeds exceeds max %d", len(seeds), MaxSeeds)
	}
	parts := make([][]byte, 0, 2*len(seeds)+2)
	for i, s := range seeds {
		if len(s) > MaxSeedLen {
			return domain.Address{}, fmt.Errorf("derive: seed %d is %d bytes, max %d", i, len(s), MaxSeedLen)
		}
		parts = append(parts, []byte{byte(len(s))}, s)
	}
	parts = append(parts, program[:], []byte(marker))

	sum := ethcrypto.Keccak256(parts...)
	if OnCurve(sum) {
		return domain.Address{}, ErrOnCurve
	}
	return domain.BytesToAddress(sum), nil
}

// FindAddress searches for the canonical bump and returns the derived
// address together with it.
func FindAddress(seeds [][]byte, program domain.Address) (domain.Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateAddress(withBump, program)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return domain.Address{}, 0, err
		}
		return addr, uint8(bump), nil
	}
	return domain.Address{}, 0, ErrNoBump
}

// Verify re-derives seeds+bump under program and checks the result equals
// want. A mismatch is an authorization failure: the caller presented a bump
// or seed set that does not belong to the record.
func Verify(seeds [][]byte, bump uint8, program, want domain.Address) error {
	got, err := CreateAddress(WithBump(seeds, bump), program)
	if err != nil {
		return domain.Errorf(domain.KindAuthorization, "derived authority: %v", err)
	}
	if got != want {
		return domain.Errorf(domain.KindAuthorization, "derived authority mismatch: want %s, got %s", want.Short(), got.Short())
	}
	return nil
}

// WithBump appends the bump as the final seed.
func WithBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, len(seeds)+1)
	copy(out, seeds)
	out[len(seeds)] = []byte{bump}
	return out
}

// OnCurve reports whether b decodes as an ed25519 point.
func OnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// U64 encodes v little-endian, the byte order used by every integer seed.
func U64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
