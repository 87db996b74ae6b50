package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

func testObjectID(b byte) contracts.ObjectId {
	var id contracts.ObjectId
	id[0] = b
	return id
}

func TestAnnounceObject_NewEntryAlwaysModifies(t *testing.T) {
	tr := NewTracker()
	id := testObjectID(1)

	assert.True(t, tr.AnnounceObject(id, ClassAccepted, 1))

	class, epoch, ok := tr.ObjectState(id)
	require.True(t, ok)
	assert.Equal(t, ClassAccepted, class)
	assert.Equal(t, int64(1), epoch)
}

func TestAnnounceObject_NewerEpochWins(t *testing.T) {
	tr := NewTracker()
	id := testObjectID(1)

	tr.AnnounceObject(id, ClassAccepted, 1)
	assert.True(t, tr.AnnounceObject(id, ClassAccepted, 2))

	_, epoch, _ := tr.ObjectState(id)
	assert.Equal(t, int64(2), epoch)
}

func TestAnnounceObject_OlderEpochIgnored(t *testing.T) {
	tr := NewTracker()
	id := testObjectID(1)

	tr.AnnounceObject(id, ClassAccepted, 5)
	assert.False(t, tr.AnnounceObject(id, ClassQuarantined, 3))

	class, epoch, _ := tr.ObjectState(id)
	assert.Equal(t, ClassAccepted, class)
	assert.Equal(t, int64(5), epoch)
}

func TestAnnounceObject_EqualEpochEscalatesClass(t *testing.T) {
	tr := NewTracker()
	id := testObjectID(1)

	tr.AnnounceObject(id, ClassAccepted, 1)
	assert.True(t, tr.AnnounceObject(id, ClassQuarantined, 1))

	class, epoch, _ := tr.ObjectState(id)
	assert.Equal(t, ClassQuarantined, class)
	assert.Equal(t, int64(1), epoch)
}

func TestAnnounceObject_EqualEpochDoesNotDeescalate(t *testing.T) {
	tr := NewTracker()
	id := testObjectID(1)

	tr.AnnounceObject(id, ClassQuarantined, 1)
	assert.False(t, tr.AnnounceObject(id, ClassAccepted, 1))

	class, _, _ := tr.ObjectState(id)
	assert.Equal(t, ClassQuarantined, class)
}

func TestAnnounceObject_EqualEpochSameClassNoChange(t *testing.T) {
	tr := NewTracker()
	id := testObjectID(1)

	tr.AnnounceObject(id, ClassAccepted, 1)
	assert.False(t, tr.AnnounceObject(id, ClassAccepted, 1))
}

func TestAnnounceSymbol_SameRulesAsObject(t *testing.T) {
	tr := NewTracker()
	id := testObjectID(1)

	assert.True(t, tr.AnnounceSymbol(id, 7, ClassAccepted, 1))
	assert.False(t, tr.AnnounceSymbol(id, 7, ClassAccepted, 0))
	assert.True(t, tr.AnnounceSymbol(id, 7, ClassQuarantined, 1))

	class, epoch, ok := tr.SymbolState(id, 7)
	require.True(t, ok)
	assert.Equal(t, ClassQuarantined, class)
	assert.Equal(t, int64(1), epoch)
}

func TestSymbolState_DistinctPerESI(t *testing.T) {
	tr := NewTracker()
	id := testObjectID(1)

	tr.AnnounceSymbol(id, 0, ClassAccepted, 1)
	tr.AnnounceSymbol(id, 1, ClassQuarantined, 1)

	c0, _, _ := tr.SymbolState(id, 0)
	c1, _, _ := tr.SymbolState(id, 1)
	assert.Equal(t, ClassAccepted, c0)
	assert.Equal(t, ClassQuarantined, c1)
}

// Invariant 5: merge is commutative — merging b into a yields the same
// resulting state as merging a into b.
func TestMerge_Commutative(t *testing.T) {
	idA := testObjectID(1)
	idB := testObjectID(2)

	a := NewTracker()
	a.AnnounceObject(idA, ClassAccepted, 3)
	a.AnnounceObject(idB, ClassAccepted, 1)

	b := NewTracker()
	b.AnnounceObject(idA, ClassQuarantined, 3) // equal epoch, escalating class
	b.AnnounceObject(idB, ClassAccepted, 5)    // newer epoch

	ab := NewTracker()
	ab.Merge(a.Snapshot())
	ab.Merge(b.Snapshot())

	ba := NewTracker()
	ba.Merge(b.Snapshot())
	ba.Merge(a.Snapshot())

	classAB, epochAB, _ := ab.ObjectState(idA)
	classBA, epochBA, _ := ba.ObjectState(idA)
	assert.Equal(t, classAB, classBA)
	assert.Equal(t, epochAB, epochBA)
	assert.Equal(t, ClassQuarantined, classAB)

	classABb, epochABb, _ := ab.ObjectState(idB)
	classBAb, epochBAb, _ := ba.ObjectState(idB)
	assert.Equal(t, classABb, classBAb)
	assert.Equal(t, epochABb, epochBAb)
	assert.Equal(t, int64(5), epochABb)
}

// Invariant 5: merge is associative — (a merge b) merge c == a merge (b merge c).
func TestMerge_Associative(t *testing.T) {
	id := testObjectID(1)

	a := NewTracker()
	a.AnnounceObject(id, ClassAccepted, 1)
	b := NewTracker()
	b.AnnounceObject(id, ClassAccepted, 2)
	c := NewTracker()
	c.AnnounceObject(id, ClassQuarantined, 2)

	left := NewTracker()
	left.Merge(a.Snapshot())
	left.Merge(b.Snapshot())
	left.Merge(c.Snapshot())

	right := NewTracker()
	bc := NewTracker()
	bc.Merge(b.Snapshot())
	bc.Merge(c.Snapshot())
	right.Merge(a.Snapshot())
	right.Merge(bc.Snapshot())

	classLeft, epochLeft, _ := left.ObjectState(id)
	classRight, epochRight, _ := right.ObjectState(id)
	assert.Equal(t, classLeft, classRight)
	assert.Equal(t, epochLeft, epochRight)
	assert.Equal(t, ClassQuarantined, classLeft)
	assert.Equal(t, int64(2), epochLeft)
}

func TestMerge_UnknownPeerObjectsAreAdopted(t *testing.T) {
	id := testObjectID(9)
	peer := NewTracker()
	peer.AnnounceObject(id, ClassAccepted, 4)

	local := NewTracker()
	local.Merge(peer.Snapshot())

	class, epoch, ok := local.ObjectState(id)
	require.True(t, ok)
	assert.Equal(t, ClassAccepted, class)
	assert.Equal(t, int64(4), epoch)
}

func TestObjectState_UnobservedReturnsFalse(t *testing.T) {
	tr := NewTracker()
	_, _, ok := tr.ObjectState(testObjectID(1))
	assert.False(t, ok)
}
