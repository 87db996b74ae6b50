// Package revocation implements the revocation index: a set-like structure
// answering IsRevoked(token_id) in O(1) average, per spec §4.3. No expiry —
// external retention is the collaborator's concern.
package revocation

import (
	"sync"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

// Registry is a concurrency-safe set of revoked token object IDs, shaped
// the same way as the teacher's trust.InstallRegistry (map + mutex, no
// background expiry).
type Registry struct {
	mu      sync.RWMutex
	revoked map[contracts.ObjectId]struct{}
}

// NewRegistry creates an empty revocation registry.
func NewRegistry() *Registry {
	return &Registry{revoked: make(map[contracts.ObjectId]struct{})}
}

// Revoke appends a token id to the revocation set. Idempotent.
func (r *Registry) Revoke(tokenID contracts.ObjectId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[tokenID] = struct{}{}
}

// IsRevoked answers whether tokenID has been revoked.
func (r *Registry) IsRevoked(tokenID contracts.ObjectId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.revoked[tokenID]
	return ok
}

// Count returns the number of revoked ids currently tracked. Exposed for
// tests and diagnostics, not part of the spec contract.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.revoked)
}
