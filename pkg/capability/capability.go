// Package capability implements the capability token verifier, spec §4.5:
// a signed, narrowly-scoped grant that a principal presents to exercise one
// capability over a bounded set of resources, optionally bound to a single
// holder node so a stolen token cannot be replayed from elsewhere.
package capability

import (
	"errors"
	"time"

	"github.com/ryanuber/go-glob"

	"github.com/flywheel-mesh/meshcore/pkg/canonicalize"
	"github.com/flywheel-mesh/meshcore/pkg/contracts"
	"github.com/flywheel-mesh/meshcore/pkg/crypto"
)

// VerifyError is the closed error taxonomy spec §4.5 requires from verify.
// Use errors.Is against the sentinel values below; Error() stays stable for
// logs but callers should branch on identity, not string content.
type VerifyError struct {
	code string
}

func (e *VerifyError) Error() string { return "capability: " + e.code }

func newVerifyError(code string) *VerifyError { return &VerifyError{code: code} }

var (
	ErrSignatureInvalid    = newVerifyError("signature_invalid")
	ErrExpired             = newVerifyError("expired")
	ErrCapabilityMismatch  = newVerifyError("capability_mismatch")
	ErrOperationNotAllowed = newVerifyError("operation_not_allowed")
	ErrResourceNotCovered  = newVerifyError("resource_not_covered")
	ErrMalformedClaims     = newVerifyError("malformed_claims")
	ErrHolderProofRequired = newVerifyError("holder_proof_required")
	ErrHolderNodeMismatch  = newVerifyError("holder_proof_node_mismatch")
	ErrHolderKeyMissing    = newVerifyError("holder_key_missing")
	ErrHolderProofInvalid  = newVerifyError("holder_proof_invalid")
	ErrMissingTokenJti     = newVerifyError("missing_token_jti")
	ErrTokenRevoked        = newVerifyError("token_revoked")
)

// Claims is the decoded, verified content of a capability token.
type Claims struct {
	Jti        contracts.ObjectId
	Capability contracts.CapabilityId
	Operations []string
	Resources  []string
	ExpiresAt  time.Time
	HolderNode contracts.NodeId // zero value means unbound
}

func (c *Claims) hasHolderBinding() bool { return c.HolderNode != "" }

// Token is a signed capability grant as it arrives over the wire: the
// claims plus the detached signature produced by the issuing authority.
type Token struct {
	Claims    Claims
	IssuerKID string
	Signature []byte
}

// CanonicalFields renders the claims in the stable field order the issuer
// signed over, so Verify can recompute the same signable bytes.
func (c *Claims) CanonicalFields() canonicalize.Fields {
	ops := make([]canonicalize.Value, len(c.Operations))
	for i, op := range c.Operations {
		ops[i] = canonicalize.String(op)
	}
	resources := make([]canonicalize.Value, len(c.Resources))
	for i, r := range c.Resources {
		resources[i] = canonicalize.String(r)
	}
	return canonicalize.Fields{
		canonicalize.F("jti", canonicalize.Bytes(c.Jti[:])),
		canonicalize.F("capability", canonicalize.String(string(c.Capability))),
		canonicalize.F("operations", canonicalize.List(ops...)),
		canonicalize.F("resources", canonicalize.List(resources...)),
		canonicalize.F("expires_at_ms", canonicalize.Int64(c.ExpiresAt.UnixMilli())),
		canonicalize.F("holder_node", canonicalize.String(string(c.HolderNode))),
	}
}

// HolderProof is supplied by the caller alongside a request for a
// holder-bound token, proving the caller is in fact the bound node.
type HolderProof struct {
	HolderNode contracts.NodeId
	Signature  []byte
}

// RequestContext carries the identifying fields the holder-binding
// signable is computed from: the request id and operation being
// performed, matched against the token's own jti.
type RequestContext struct {
	RequestID contracts.RequestId
	Operation string
}

// HolderKeyLookup resolves a node id to its Ed25519 public key for
// holder-proof verification. Implemented by the mesh orchestrator's
// session/key map.
type HolderKeyLookup interface {
	Lookup(node contracts.NodeId) ([]byte, bool)
}

// RevocationChecker answers whether a token jti has been revoked.
// pkg/revocation.Registry satisfies this.
type RevocationChecker interface {
	IsRevoked(tokenID contracts.ObjectId) bool
}

// Verifier checks capability tokens against a trusted issuer key ring,
// an optional revocation index, and an optional holder-key lookup.
type Verifier struct {
	issuers    *crypto.KeyRing
	revocation RevocationChecker
	holderKeys HolderKeyLookup
}

// NewVerifier constructs a Verifier. revocation and holderKeys may be nil;
// a nil revocation checker skips the revocation check entirely, and with a
// nil holderKeys a holder-bound token whose proof is present and names the
// bound node fails with ErrHolderKeyMissing (there is nowhere to look up
// the binding key); a missing proof or a node mismatch is reported first.
func NewVerifier(issuers *crypto.KeyRing, revocation RevocationChecker, holderKeys HolderKeyLookup) *Verifier {
	return &Verifier{issuers: issuers, revocation: revocation, holderKeys: holderKeys}
}

// Verify runs the six-step pipeline spec §4.5 defines, then (if the token
// is holder-bound) the holder-proof check. requiredCapability, operation,
// and resourceURIs describe what the caller is attempting; holderProof and
// reqCtx are only consulted when claims.HolderNode is non-empty — pass the
// zero HolderProof/RequestContext when the caller has neither.
func (v *Verifier) Verify(
	token *Token,
	requiredCapability contracts.CapabilityId,
	operation string,
	resourceURIs []string,
	holderProof *HolderProof,
	reqCtx RequestContext,
	now time.Time,
) (*Claims, error) {
	claims := &token.Claims
	if claims.Jti.IsZero() {
		return nil, ErrMissingTokenJti
	}
	if claims.Capability == "" || len(claims.Operations) == 0 {
		return nil, ErrMalformedClaims
	}

	signable, err := canonicalize.EncodeFields(claims.CanonicalFields())
	if err != nil {
		return nil, ErrMalformedClaims
	}
	ok, err := v.issuers.Verify(token.IssuerKID, signable, token.Signature)
	if err != nil || !ok {
		return nil, ErrSignatureInvalid
	}

	if !claims.ExpiresAt.After(now) {
		return nil, ErrExpired
	}

	if claims.Capability != requiredCapability {
		return nil, ErrCapabilityMismatch
	}

	if !containsOperation(claims.Operations, operation) {
		return nil, ErrOperationNotAllowed
	}

	for _, uri := range resourceURIs {
		if !coveredByAnyPattern(claims.Resources, uri) {
			return nil, ErrResourceNotCovered
		}
	}

	if claims.hasHolderBinding() {
		if err := v.checkHolderProof(claims, holderProof, reqCtx); err != nil {
			return nil, err
		}
	}

	if v.revocation != nil && v.revocation.IsRevoked(claims.Jti) {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

func (v *Verifier) checkHolderProof(claims *Claims, proof *HolderProof, reqCtx RequestContext) error {
	if proof == nil {
		return ErrHolderProofRequired
	}
	if proof.HolderNode != claims.HolderNode {
		return ErrHolderNodeMismatch
	}

	signable, err := canonicalize.Encode(canonicalize.List(
		canonicalize.String(string(reqCtx.RequestID)),
		canonicalize.String(reqCtx.Operation),
		canonicalize.Bytes(claims.Jti[:]),
	))
	if err != nil {
		return ErrMalformedClaims
	}

	if v.holderKeys == nil {
		return ErrHolderKeyMissing
	}
	pub, ok := v.holderKeys.Lookup(proof.HolderNode)
	if !ok {
		return ErrHolderKeyMissing
	}
	if !crypto.Verify(pub, signable, proof.Signature) {
		return ErrHolderProofInvalid
	}
	return nil
}

func containsOperation(allowed []string, op string) bool {
	for _, a := range allowed {
		if a == op {
			return true
		}
	}
	return false
}

func coveredByAnyPattern(patterns []string, uri string) bool {
	for _, p := range patterns {
		if glob.Glob(p, uri) {
			return true
		}
	}
	return false
}

// ErrIsVerify reports whether err is one of this package's VerifyError
// sentinels, for callers that only need a yes/no without branching on
// which sentinel fired.
func ErrIsVerify(err error) bool {
	var ve *VerifyError
	return errors.As(err, &ve)
}
