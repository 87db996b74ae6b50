// Package crypto provides the detached-signature primitives spec §4.2
// requires: sign/verify over raw bytes, and loading a signing key from a
// 32-byte raw seed. Everything above "sign these bytes" — what bytes get
// signed, and how they're derived — lives in the packages that own those
// domain objects (policy, capability), matching the teacher's split between
// crypto.Signer (raw primitive) and the canonicalization each caller does
// before handing bytes to it.
package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// SignatureSize is the fixed length of a detached Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// SeedSize is the required length of a raw signing-key seed.
const SeedSize = ed25519.SeedSize

// ErrInvalidKeyLength is returned when a seed or public key is the wrong size.
var ErrInvalidKeyLength = errors.New("crypto: invalid key length")

// ErrInvalidEncoding is returned when a key cannot be decoded from its
// on-disk/wire representation.
var ErrInvalidEncoding = errors.New("crypto: invalid key encoding")

// SigningKey wraps an Ed25519 private key loaded from a raw 32-byte seed.
type SigningKey struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// LoadSigningKey derives a SigningKey from a 32-byte raw seed (spec §4.2:
// "key loading from 32-byte raw seed").
func LoadSigningKey(seed []byte) (*SigningKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes, want %d", ErrInvalidKeyLength, len(seed), SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: derived public key has unexpected type", ErrInvalidEncoding)
	}
	return &SigningKey{priv: priv, pub: pub}, nil
}

// GenerateSigningKey creates a new random SigningKey, for tests and
// bootstrap tooling.
func GenerateSigningKey() (*SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	pub, _ := priv.Public().(ed25519.PublicKey)
	return &SigningKey{priv: priv, pub: pub}, nil
}

// Sign produces a 64-byte detached signature over msg.
func (k *SigningKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// PublicKey returns the raw 32-byte Ed25519 public key.
func (k *SigningKey) PublicKey() ed25519.PublicKey {
	return k.pub
}

// Verify checks a detached signature against an arbitrary public key.
// Returns ok=false (never an error) for a malformed signature — mismatched
// sizes are not distinguished from cryptographic failure, per spec §4.2.
func Verify(pub ed25519.PublicKey, msg, signature []byte) (ok bool) {
	if len(pub) != ed25519.PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, signature)
}

// ParsePublicKey validates and wraps a raw public key byte slice.
func ParsePublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes, want %d", ErrInvalidKeyLength, len(raw), ed25519.PublicKeySize)
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, raw)
	return pub, nil
}
