package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/flywheel-mesh/meshcore/pkg/canonicalize"
	"github.com/flywheel-mesh/meshcore/pkg/contracts"
	"github.com/flywheel-mesh/meshcore/pkg/crypto"
)

// PolicyRef points at one policy object bundled into a PolicyBundle by
// content address and schema.
type PolicyRef struct {
	ObjectID contracts.ObjectId
	SchemaID string
}

// Validate checks a PolicyRef is well-formed: non-zero object id and a
// non-empty schema id.
func (r PolicyRef) Validate() error {
	if r.ObjectID.IsZero() {
		return errors.New("policy: ref has zero object id")
	}
	if r.SchemaID == "" {
		return errors.New("policy: ref has empty schema id")
	}
	return nil
}

func (r PolicyRef) canonicalValue() canonicalize.Value {
	return canonicalize.Map(map[string]canonicalize.Value{
		"object_id": canonicalize.Bytes(r.ObjectID[:]),
		"schema_id": canonicalize.String(r.SchemaID),
	})
}

// Signature is a detached signature over a bundle's signed fields, plus
// the ordered list of field names it covers — carried alongside the
// signature so a verifier can recompute the exact signing bytes without
// guessing which fields were included.
type Signature struct {
	KeyID        string
	Sig          []byte
	SignedFields []string
}

// SignedFields is the fixed, order-significant list of bundle field names
// a signature covers. Spec §6 requires any implementation preserve this
// order exactly — it is part of the wire contract, not an implementation
// detail.
var SignedFields = []string{
	"bundle_id",
	"zone_id",
	"policy_seq",
	"created_at",
	"previous_bundle",
	"policies",
}

// Bundle is the signed, versioned policy bundle spec §3 defines.
type Bundle struct {
	BundleID       string
	ZoneID         contracts.ZoneId
	PolicySeq      uint64
	BundleHash     contracts.ObjectId
	CreatedAt      time.Time
	PreviousBundle *string
	Policies       []PolicyRef
	Signature      Signature
}

// Bundle validation/build errors, spec §4.7/§7.
var (
	ErrEmptyPolicies    = errors.New("policy: bundle has no policies")
	ErrHashMismatch     = errors.New("policy: bundle_hash does not match recomputed hash")
	ErrSignatureInvalid = errors.New("policy: bundle signature does not verify")
)

// InvalidRefError names the offending index when a PolicyRef fails validation.
type InvalidRefError struct {
	Index int
	Cause error
}

func (e *InvalidRefError) Error() string {
	return fmt.Sprintf("policy: invalid ref at index %d: %v", e.Index, e.Cause)
}

func (e *InvalidRefError) Unwrap() error { return e.Cause }

func fieldValue(b *Bundle, name string) (canonicalize.Value, error) {
	switch name {
	case "bundle_id":
		return canonicalize.String(b.BundleID), nil
	case "zone_id":
		return canonicalize.String(string(b.ZoneID)), nil
	case "policy_seq":
		return canonicalize.Uint64(b.PolicySeq), nil
	case "created_at":
		return canonicalize.Int64(b.CreatedAt.UnixMilli()), nil
	case "previous_bundle":
		if b.PreviousBundle == nil {
			return canonicalize.OptionalBytes(false, nil), nil
		}
		return canonicalize.String(*b.PreviousBundle), nil
	case "policies":
		refs := make([]canonicalize.Value, len(b.Policies))
		for i, r := range b.Policies {
			refs[i] = r.canonicalValue()
		}
		return canonicalize.List(refs...), nil
	default:
		return canonicalize.Value{}, fmt.Errorf("policy: unknown signed field %q", name)
	}
}

func computeHash(b *Bundle) (contracts.ObjectId, error) {
	fields := make(canonicalize.Fields, 0, 6)
	names := []string{"bundle_id", "zone_id", "policy_seq", "created_at", "previous_bundle", "policies"}
	for _, n := range names {
		v, err := fieldValue(b, n)
		if err != nil {
			return contracts.ObjectId{}, err
		}
		fields = append(fields, canonicalize.F(n, v))
	}
	enc, err := canonicalize.EncodeFields(fields)
	if err != nil {
		return contracts.ObjectId{}, err
	}
	return contracts.FromUnscopedBytes(enc), nil
}

func signingBytes(b *Bundle, signedFields []string) ([]byte, error) {
	var out []byte
	for _, name := range signedFields {
		v, err := fieldValue(b, name)
		if err != nil {
			return nil, err
		}
		enc, err := canonicalize.Encode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

// BuildInput collects the arguments Build needs, mirroring spec §4.7's
// build input tuple.
type BuildInput struct {
	BundleID       string
	ZoneID         contracts.ZoneId
	PolicySeq      uint64
	Policies       []PolicyRef
	PreviousBundle *string
	CreatedAt      time.Time
	SigningKey     *crypto.SigningKey
	KeyID          string
}

// Build assembles, hashes, and signs a new Bundle. It first computes
// bundle_hash over the canonical encoding of the identifying fields, then
// signs the concatenation of canonical encodings of SignedFields.
func Build(in BuildInput) (*Bundle, error) {
	if len(in.Policies) == 0 {
		return nil, ErrEmptyPolicies
	}
	for i, ref := range in.Policies {
		if err := ref.Validate(); err != nil {
			return nil, &InvalidRefError{Index: i, Cause: err}
		}
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	b := &Bundle{
		BundleID:       in.BundleID,
		ZoneID:         in.ZoneID,
		PolicySeq:      in.PolicySeq,
		CreatedAt:      createdAt,
		PreviousBundle: in.PreviousBundle,
		Policies:       in.Policies,
	}

	hash, err := computeHash(b)
	if err != nil {
		return nil, err
	}
	b.BundleHash = hash

	signable, err := signingBytes(b, SignedFields)
	if err != nil {
		return nil, err
	}
	b.Signature = Signature{
		KeyID:        in.KeyID,
		Sig:          in.SigningKey.Sign(signable),
		SignedFields: append([]string(nil), SignedFields...),
	}

	return b, nil
}

// Validate enforces the invariants spec §4.7 requires: non-empty
// policies, well-formed refs, a verifying signature, and a matching
// bundle hash. issuers resolves the signature's key id to a verification
// key.
func (b *Bundle) Validate(issuers *crypto.KeyRing) error {
	if len(b.Policies) == 0 {
		return ErrEmptyPolicies
	}
	for i, ref := range b.Policies {
		if err := ref.Validate(); err != nil {
			return &InvalidRefError{Index: i, Cause: err}
		}
	}

	recomputed, err := computeHash(b)
	if err != nil {
		return err
	}
	if recomputed != b.BundleHash {
		return ErrHashMismatch
	}

	signable, err := signingBytes(b, b.Signature.SignedFields)
	if err != nil {
		return err
	}
	ok, err := issuers.Verify(b.Signature.KeyID, signable, b.Signature.Sig)
	if err != nil || !ok {
		return ErrSignatureInvalid
	}

	return nil
}

// RecomputeHash recomputes bundle_hash from b's current fields, for
// invariant checks (spec §8 invariant 1) without mutating b.
func RecomputeHash(b *Bundle) (contracts.ObjectId, error) {
	return computeHash(b)
}
