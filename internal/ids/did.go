// Package ids provides the identifier and value-coercion primitives shared
// across nildb: DIDs, collection/document UUIDs, and the request-time
// coercion of filter documents.
package ids

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDID is returned when a string does not have the did:nil:<hex>
// shape or its hex segment does not decode to an ed25519 public key.
var ErrInvalidDID = errors.New("invalid did")

const didPrefix = "did:nil:"

// DID is a textual, cryptographic principal identifier of the form
// did:nil:<public-key-hex>.
type DID string

// NewDID derives a DID from an ed25519 public key.
func NewDID(pub ed25519.PublicKey) DID {
	return DID(didPrefix + hex.EncodeToString(pub))
}

// ParseDID validates the shape of s and returns it as a DID.
func ParseDID(s string) (DID, error) {
	if !strings.HasPrefix(s, didPrefix) {
		return "", fmt.Errorf("%w: %q: missing %q prefix", ErrInvalidDID, s, didPrefix)
	}
	keyHex := strings.TrimPrefix(s, didPrefix)
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidDID, s, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: %q: expected %d key bytes, got %d", ErrInvalidDID, s, ed25519.PublicKeySize, len(raw))
	}
	return DID(s), nil
}

// PublicKey recovers the ed25519 public key encoded in the DID.
func (d DID) PublicKey() (ed25519.PublicKey, error) {
	keyHex := strings.TrimPrefix(string(d), didPrefix)
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDID, err)
	}
	return ed25519.PublicKey(raw), nil
}

// String implements fmt.Stringer.
func (d DID) String() string {
	return string(d)
}

// Valid reports whether d has the expected shape.
func (d DID) Valid() bool {
	_, err := ParseDID(string(d))
	return err == nil
}
