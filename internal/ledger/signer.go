package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/roach88/ledgerflow/internal/ir"
)

// Ed25519Signer signs call payloads with an ed25519 key.
// The address is the hex-encoded public key with a 0x prefix.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer derives a signer from a 32-byte seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// ParseSeed accepts a hex seed with or without 0x prefix.
func ParseSeed(s string) (*Ed25519Signer, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return NewEd25519Signer(b)
}

// Address returns the 0x-prefixed public key.
func (s *Ed25519Signer) Address() string {
	return "0x" + hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// Sign signs payload.
func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(s.key, payload), nil
}

// SignCall signs the canonical payload of call.
func SignCall(signer Signer, call Call) (payload, sig []byte, err error) {
	payload, err = ir.CallPayload(call.Section, call.Method, call.Args)
	if err != nil {
		return nil, nil, err
	}
	sig, err = signer.Sign(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("sign %s: %w", call.Name(), err)
	}
	return payload, sig, nil
}

// VerifyCall checks sig against address for call. Address must be the
// form Ed25519Signer.Address returns.
func VerifyCall(address string, call Call, sig []byte) (bool, error) {
	pub, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid address %q", address)
	}
	payload, err := ir.CallPayload(call.Section, call.Method, call.Args)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig), nil
}
