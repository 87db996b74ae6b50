package crypto

import (
	"crypto/ed25519"
	"fmt"
	"sync"
)

// KeyRing is a concurrency-safe set of trusted public keys indexed by key
// ID, used by the capability verifier (trusted issuer keys) and the bundle
// manager (zone signing keys) to resolve a key_id to a verification key
// without either caller owning key storage itself. Mirrors the map+mutex
// shape of the teacher's crypto.KeyRing, generalized to hold Verifier-side
// keys only (this core never needs to pick an "active" signer from a ring —
// each signing caller holds its own SigningKey).
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewKeyRing creates an empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]ed25519.PublicKey)}
}

// Add registers a trusted public key under keyID, replacing any existing
// entry for that ID (key rotation).
func (r *KeyRing) Add(keyID string, pub ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(ed25519.PublicKey, len(pub))
	copy(cp, pub)
	r.keys[keyID] = cp
}

// Revoke removes a key from the ring by ID.
func (r *KeyRing) Revoke(keyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, keyID)
}

// Lookup returns the public key registered under keyID.
func (r *KeyRing) Lookup(keyID string) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.keys[keyID]
	return pub, ok
}

// Verify checks a detached signature against the key registered under keyID.
func (r *KeyRing) Verify(keyID string, msg, signature []byte) (bool, error) {
	pub, ok := r.Lookup(keyID)
	if !ok {
		return false, fmt.Errorf("crypto: unknown or revoked key %q", keyID)
	}
	return Verify(pub, msg, signature), nil
}
