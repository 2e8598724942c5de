package crypto

import (
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/custodex/internal/domain"
)

type listPayload struct {
	RequestID string `json:"request_id"`
	Price     uint64 `json:"price"`
}

func mustKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	k, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEnvelopeSignersAreVerifiedKeys(t *testing.T) {
	maker, taker := mustKey(t), mustKey(t)

	env, err := Seal(listPayload{RequestID: "r1", Price: 10_000}, maker, taker)
	if err != nil {
		t.Fatal(err)
	}
	var got listPayload
	signers, err := env.Open(&got)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.Price != 10_000 {
		t.Fatalf("payload price = %d", got.Price)
	}
	if len(signers) != 2 || !signers.Contains(AddressOf(maker)) || !signers.Contains(AddressOf(taker)) {
		t.Fatalf("signers = %v", signers)
	}
}

func TestEnvelopeRejectsTampering(t *testing.T) {
	k := mustKey(t)
	other := mustKey(t)

	tests := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"payload changed", func(e *Envelope) { e.Payload = []byte(`{"price":1}`) }},
		{"signature under another key", func(e *Envelope) {
			sig := e.Signatures[AddressOf(k).String()]
			delete(e.Signatures, AddressOf(k).String())
			e.Signatures[AddressOf(other).String()] = sig
		}},
		{"truncated signature", func(e *Envelope) {
			e.Signatures[AddressOf(k).String()] = "0x0102"
		}},
		{"bad signer key", func(e *Envelope) { e.Signatures["nothex"] = "0x00" }},
		{"empty payload", func(e *Envelope) { e.Payload = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Seal(listPayload{RequestID: "r", Price: 5}, k)
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(&env)
			if _, err := env.Verify(); !errors.Is(err, domain.ErrBadSignature) {
				t.Fatalf("Verify = %v, want ErrBadSignature", err)
			}
		})
	}
}

func TestUnsignedEnvelopeHasNoSigners(t *testing.T) {
	env, err := Seal(listPayload{RequestID: "r"})
	if err != nil {
		t.Fatal(err)
	}
	signers, err := env.Verify()
	if err != nil || len(signers) != 0 {
		t.Fatalf("Verify unsigned = %v, %v", signers, err)
	}
}

func TestEncryptedKeyFile(t *testing.T) {
	k := mustKey(t)
	blob, err := EncryptKey(k, "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("decrypt with wrong password succeeded")
	}

	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if AddressOf(loaded) != AddressOf(k) {
		t.Fatal("loaded key has a different address")
	}
}

func TestLoadKeySources(t *testing.T) {
	k := mustKey(t)
	seed := hexutil.Encode(k[:32])

	got, err := LoadKey(KeyConfig{RawSeed: seed})
	if err != nil || AddressOf(got) != AddressOf(k) {
		t.Fatalf("LoadKey raw = %v", err)
	}
	if _, err := LoadKey(KeyConfig{RawSeed: "0x1234"}); err == nil {
		t.Fatal("short seed accepted")
	}
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("empty config accepted")
	}
}
