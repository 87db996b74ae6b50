package canonicalize

import "github.com/flywheel-mesh/meshcore/pkg/contracts"

// ObjectID computes the content-addressed ObjectId of a canonicalizable
// domain value: SHA-256 of its canonical field encoding, per spec §4.1
// (object_id(policy) = ObjectId::from_unscoped_bytes(canonical(policy))).
func ObjectID(c Canonicalizable) (contracts.ObjectId, error) {
	enc, err := Canonical(c)
	if err != nil {
		return contracts.ObjectId{}, err
	}
	return contracts.FromUnscopedBytes(enc), nil
}

// ObjectIDOfValue computes the ObjectId of a raw Value tree (used when a
// caller wants to hash a sub-structure rather than a whole Canonicalizable).
func ObjectIDOfValue(v Value) (contracts.ObjectId, error) {
	enc, err := Encode(v)
	if err != nil {
		return contracts.ObjectId{}, err
	}
	return contracts.FromUnscopedBytes(enc), nil
}
