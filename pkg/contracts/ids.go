// Package contracts holds the identifier and value types shared across the
// policy/capability plane and the mesh coordination core. Nothing in this
// package depends on any other meshcore package — it is the leaf of the
// dependency graph, the way Mindburn-Labs/helm/core/pkg/contracts is for HELM.
package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ZoneId names a hierarchical administrative zone, e.g. "z:work/eng".
type ZoneId string

// NodeId identifies a mesh peer.
type NodeId string

// CapabilityId names an authorized action in dotted namespace form,
// e.g. "cap.read" or "fcp.test.invoke".
type CapabilityId string

// RequestId identifies a single invoke request.
type RequestId string

// ConnectorId identifies a tool/connector.
type ConnectorId string

// ObjectIdSize is the fixed byte length of an ObjectId (SHA-256 digest).
const ObjectIdSize = sha256.Size

// ObjectId is the content hash of a canonical byte encoding, framed to a
// fixed 32-byte array per spec §3/§4.1.
type ObjectId [ObjectIdSize]byte

// FromUnscopedBytes hashes raw bytes directly (SHA-256), with no additional
// framing beyond the digest itself. Used for token JTIs and any other value
// that is already an opaque byte string rather than a structured object.
func FromUnscopedBytes(b []byte) ObjectId {
	return ObjectId(sha256.Sum256(b))
}

// String renders the ObjectId as lowercase hex.
func (o ObjectId) String() string {
	return hex.EncodeToString(o[:])
}

// IsZero reports whether o is the zero-value ObjectId.
func (o ObjectId) IsZero() bool {
	return o == ObjectId{}
}

// ParseObjectId decodes a hex-encoded ObjectId string.
func ParseObjectId(s string) (ObjectId, error) {
	s = strings.TrimSpace(s)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ObjectId{}, fmt.Errorf("contracts: invalid object id %q: %w", s, err)
	}
	if len(raw) != ObjectIdSize {
		return ObjectId{}, fmt.Errorf("contracts: object id %q has length %d, want %d", s, len(raw), ObjectIdSize)
	}
	var id ObjectId
	copy(id[:], raw)
	return id, nil
}

// MarshalText implements encoding.TextMarshaler so ObjectId round-trips
// through JSON as a hex string rather than a base64 byte array.
func (o ObjectId) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *ObjectId) UnmarshalText(text []byte) error {
	id, err := ParseObjectId(string(text))
	if err != nil {
		return err
	}
	*o = id
	return nil
}

// Transport enumerates the transport a request is carried over.
type Transport string

// Transport constants.
const (
	TransportLan    Transport = "lan"
	TransportDerp   Transport = "derp"
	TransportFunnel Transport = "funnel"
)

// SafetyTier orders the severity of an operation for approval-threshold gating.
type SafetyTier int

// Safety tier constants, ordered low to high.
const (
	SafetyTierSafe SafetyTier = iota
	SafetyTierElevated
	SafetyTierSensitive
	SafetyTierCritical
)
