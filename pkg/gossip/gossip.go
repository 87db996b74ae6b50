// Package gossip tracks per-zone object and symbol availability
// advertisements with monotonic epochs, per spec §4.9. Merges (whether
// from a direct announce or from absorbing a peer's summary) are
// commutative and associative under the "newer epoch wins, equal epoch
// escalates class" rule.
package gossip

import (
	"sync"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

// Class is the admission class an object or symbol has been observed
// under, spec §3's "object admission class".
type Class int

const (
	ClassUnknown Class = iota
	ClassAccepted
	ClassQuarantined
)

// rank orders classes for the escalation tie-break: Quarantined >
// Accepted > Unknown.
func (c Class) rank() int {
	switch c {
	case ClassQuarantined:
		return 2
	case ClassAccepted:
		return 1
	default:
		return 0
	}
}

// escalate returns the higher-ranked of two classes.
func escalate(a, b Class) Class {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// entry is the (class, epoch) pair tracked for an object or symbol.
type entry struct {
	class Class
	epoch int64
}

// merge applies the monotonic rule: a newer epoch always wins outright;
// an equal epoch keeps the escalated (higher-ranked) class; an older
// epoch never changes anything. Returns the merged entry and whether it
// differs from the receiver (i.e. whether the map should be updated).
func (e entry) merge(class Class, epoch int64) (entry, bool) {
	switch {
	case epoch > e.epoch:
		return entry{class: class, epoch: epoch}, true
	case epoch < e.epoch:
		return e, false
	default:
		merged := escalate(e.class, class)
		return entry{class: merged, epoch: epoch}, merged != e.class
	}
}

type symbolKey struct {
	object contracts.ObjectId
	esi    uint32
}

// Tracker holds one zone's view of object and symbol availability.
// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	objects map[contracts.ObjectId]entry
	symbols map[symbolKey]entry
}

// NewTracker creates an empty zone gossip tracker.
func NewTracker() *Tracker {
	return &Tracker{
		objects: make(map[contracts.ObjectId]entry),
		symbols: make(map[symbolKey]entry),
	}
}

// AnnounceObject records an observation of an object's admission class at
// a given epoch. Returns true iff the map was modified — either a new
// entry was inserted, or an existing entry advanced under the monotonic
// merge rule.
func (t *Tracker) AnnounceObject(id contracts.ObjectId, class Class, epoch int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.objects[id]
	if !ok {
		t.objects[id] = entry{class: class, epoch: epoch}
		return true
	}
	merged, changed := existing.merge(class, epoch)
	if changed {
		t.objects[id] = merged
	}
	return changed
}

// AnnounceSymbol records an observation of one symbol's admission class
// for an object, at a given epoch. Same modified-iff-changed semantics as
// AnnounceObject.
func (t *Tracker) AnnounceSymbol(id contracts.ObjectId, esi uint32, class Class, epoch int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := symbolKey{object: id, esi: esi}
	existing, ok := t.symbols[key]
	if !ok {
		t.symbols[key] = entry{class: class, epoch: epoch}
		return true
	}
	merged, changed := existing.merge(class, epoch)
	if changed {
		t.symbols[key] = merged
	}
	return changed
}

// ObjectState returns the currently tracked class and epoch for an
// object, or (ClassUnknown, 0, false) if never observed.
func (t *Tracker) ObjectState(id contracts.ObjectId) (Class, int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.objects[id]
	return e.class, e.epoch, ok
}

// SymbolState returns the currently tracked class and epoch for an
// object's symbol, or (ClassUnknown, 0, false) if never observed.
func (t *Tracker) SymbolState(id contracts.ObjectId, esi uint32) (Class, int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.symbols[symbolKey{object: id, esi: esi}]
	return e.class, e.epoch, ok
}

// Snapshot is an immutable point-in-time copy of a Tracker's state,
// suitable for merging into another Tracker (e.g. absorbing a peer's
// gossip summary) without holding both trackers' locks at once.
type Snapshot struct {
	Objects map[contracts.ObjectId]struct {
		Class Class
		Epoch int64
	}
	Symbols map[symbolKey]struct {
		Class Class
		Epoch int64
	}
}

// Snapshot copies the tracker's current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Objects: make(map[contracts.ObjectId]struct {
			Class Class
			Epoch int64
		}, len(t.objects)),
		Symbols: make(map[symbolKey]struct {
			Class Class
			Epoch int64
		}, len(t.symbols)),
	}
	for k, v := range t.objects {
		s.Objects[k] = struct {
			Class Class
			Epoch int64
		}{v.class, v.epoch}
	}
	for k, v := range t.symbols {
		s.Symbols[k] = struct {
			Class Class
			Epoch int64
		}{v.class, v.epoch}
	}
	return s
}

// Merge absorbs a peer's snapshot using the same monotonic rule as
// AnnounceObject/AnnounceSymbol, applied entry by entry. Commutative and
// associative, since each underlying entry merge is (spec §8 invariant 5).
func (t *Tracker) Merge(other Snapshot) {
	for id, v := range other.Objects {
		t.AnnounceObject(id, v.Class, v.Epoch)
	}
	for key, v := range other.Symbols {
		t.AnnounceSymbol(key.object, key.esi, v.Class, v.Epoch)
	}
}
