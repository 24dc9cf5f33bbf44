package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for changing the encoding later.
const (
	DomainSubscription = "ledgerflow/subscription/v1"
	DomainCall         = "ledgerflow/call/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The null separator keeps domain and data from running together.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SubscriptionID computes the stable identity of a live value
// (network, resource kind, resource path).
func SubscriptionID(network, kind string, path []string) (string, error) {
	p := make(Array, len(path))
	for i, seg := range path {
		p[i] = String(seg)
	}
	obj := Object{
		"network": String(network),
		"kind":    String(kind),
		"path":    p,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SubscriptionID: %w", err)
	}
	return hashWithDomain(DomainSubscription, canonical), nil
}

// CallPayload returns the canonical bytes of a call: the exact payload a
// signer signs and a gateway re-derives for verification.
func CallPayload(section, method string, args Object) ([]byte, error) {
	if args == nil {
		args = Object{}
	}
	obj := Object{
		"section": String(section),
		"method":  String(method),
		"args":    args,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("CallPayload: %w", err)
	}
	return canonical, nil
}

// CallDigest is the domain-separated hash of a call payload.
func CallDigest(section, method string, args Object) (string, error) {
	payload, err := CallPayload(section, method, args)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainCall, payload), nil
}
