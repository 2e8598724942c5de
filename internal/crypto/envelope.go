package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// signingDomain separates request signatures from any other use of the same
// key.
const signingDomain = "custodex/request/v1"

// Envelope is a request body together with the signatures over it. Keys of
// Signatures are hex addresses (the signer's public key); values are hex
// ed25519 signatures over Digest(Payload).
type Envelope struct {
	Payload    json.RawMessage   `json:"payload"`
	Signatures map[string]string `json:"signatures"`
}

// Digest is the message every signer signs.
func Digest(payload []byte) []byte {
	return ethcrypto.Keccak256([]byte(signingDomain), payload)
}

// Seal marshals payload and signs it with every key.
func Seal(payload any, keys ...ed25519.PrivateKey) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("crypto: marshal payload: %w", err)
	}
	env := Envelope{Payload: raw, Signatures: make(map[string]string, len(keys))}
	for _, k := range keys {
		env.Sign(k)
	}
	return env, nil
}

// Sign adds k's signature over the current payload.
func (e *Envelope) Sign(k ed25519.PrivateKey) {
	if e.Signatures == nil {
		e.Signatures = make(map[string]string)
	}
	e.Signatures[AddressOf(k).String()] = hexutil.Encode(ed25519.Sign(k, Digest(e.Payload)))
}

// Verify checks every signature and returns the signer set in address
// order. One bad signature rejects the whole envelope.
func (e Envelope) Verify() (domain.Signers, error) {
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("crypto: empty payload: %w", domain.ErrBadSignature)
	}
	digest := Digest(e.Payload)
	signers := make(domain.Signers, 0, len(e.Signatures))
	for key, sigHex := range e.Signatures {
		addr, err := domain.ParseAddress(key)
		if err != nil {
			return nil, fmt.Errorf("crypto: signer %q: %w", key, domain.ErrBadSignature)
		}
		sig, err := hexutil.Decode(sigHex)
		if err != nil || len(sig) != ed25519.SignatureSize {
			return nil, fmt.Errorf("crypto: signature for %s is malformed: %w", addr.Short(), domain.ErrBadSignature)
		}
		if !ed25519.Verify(ed25519.PublicKey(addr.Bytes()), digest, sig) {
			return nil, fmt.Errorf("crypto: signature for %s does not verify: %w", addr.Short(), domain.ErrBadSignature)
		}
		signers = append(signers, addr)
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i].Compare(signers[j]) < 0 })
	return signers, nil
}

// Open verifies the envelope and decodes its payload into v.
func (e Envelope) Open(v any) (domain.Signers, error) {
	signers, err := e.Verify()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return nil, fmt.Errorf("crypto: decode payload: %w", err)
	}
	return signers, nil
}
