package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoc struct {
	id   string
	seq  uint64
	tags []string
}

func (d fakeDoc) CanonicalFields() Fields {
	tagValues := make([]Value, len(d.tags))
	for i, t := range d.tags {
		tagValues[i] = String(t)
	}
	return Fields{
		F("id", String(d.id)),
		F("seq", Uint64(d.seq)),
		F("tags", List(tagValues...)),
	}
}

func TestEncode_DeterministicMapOrdering(t *testing.T) {
	m1 := Map(map[string]Value{"c": Uint64(3), "a": Uint64(1), "b": Uint64(2)})
	m2 := Map(map[string]Value{"b": Uint64(2), "c": Uint64(3), "a": Uint64(1)})

	b1, err := Encode(m1)
	require.NoError(t, err)
	b2, err := Encode(m2)
	require.NoError(t, err)

	assert.Equal(t, b1, b2, "map key insertion order must not affect canonical bytes")
}

func TestCanonical_EqualValuesProduceEqualBytes(t *testing.T) {
	a := fakeDoc{id: "doc-1", seq: 7, tags: []string{"x", "y"}}
	b := fakeDoc{id: "doc-1", seq: 7, tags: []string{"x", "y"}}

	ba, err := Canonical(a)
	require.NoError(t, err)
	bb, err := Canonical(b)
	require.NoError(t, err)

	assert.Equal(t, ba, bb)
}

func TestCanonical_FieldChangeProducesDifferentBytes(t *testing.T) {
	a := fakeDoc{id: "doc-1", seq: 7, tags: []string{"x", "y"}}
	b := fakeDoc{id: "doc-1", seq: 8, tags: []string{"x", "y"}}

	ba, err := Canonical(a)
	require.NoError(t, err)
	bb, err := Canonical(b)
	require.NoError(t, err)

	assert.NotEqual(t, ba, bb)
}

func TestObjectID_StableAndSensitiveToChange(t *testing.T) {
	a := fakeDoc{id: "doc-1", seq: 1, tags: nil}
	b := fakeDoc{id: "doc-1", seq: 1, tags: nil}
	c := fakeDoc{id: "doc-2", seq: 1, tags: nil}

	idA, err := ObjectID(a)
	require.NoError(t, err)
	idB, err := ObjectID(b)
	require.NoError(t, err)
	idC, err := ObjectID(c)
	require.NoError(t, err)

	assert.Equal(t, idA, idB)
	assert.NotEqual(t, idA, idC)
}

func TestEncode_ListOrderIsSignificant(t *testing.T) {
	l1 := List(String("a"), String("b"))
	l2 := List(String("b"), String("a"))

	b1, err := Encode(l1)
	require.NoError(t, err)
	b2, err := Encode(l2)
	require.NoError(t, err)

	assert.NotEqual(t, b1, b2)
}

func TestEncode_AbsentAndEmptyBytesEncodeIdentically(t *testing.T) {
	absent := OptionalBytes(false, nil)
	present := OptionalBytes(true, []byte{})

	ab, err := Encode(absent)
	require.NoError(t, err)
	pb, err := Encode(present)
	require.NoError(t, err)

	assert.Equal(t, ab, pb, "both encode as zero-length byte strings of the same kind")
}
