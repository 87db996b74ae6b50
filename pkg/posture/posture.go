// Package posture evaluates signed device posture attestations against a
// zone's posture requirements, per spec §4.4. An attestation proves a
// device met certain security properties (disk encryption, OS version,
// managed state, ...) at the time a trusted verifier examined it; a
// PostureRequirements value is the zone-authored policy that the
// attestation must satisfy before the device may use a capability.
package posture

import (
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

// AttributeKey identifies a single posture attribute. The closed set of
// well-known keys mirrors the device properties a verifier can attest to;
// Custom allows zone-specific extensions without a schema change.
type AttributeKey struct {
	wellKnown string
	custom    string
}

// Well-known attribute keys, matching the verifier-collected device
// properties the original posture schema defines.
var (
	OsType            = AttributeKey{wellKnown: "os_type"}
	OsVersion         = AttributeKey{wellKnown: "os_version"}
	DiskEncryption    = AttributeKey{wellKnown: "disk_encryption"}
	FirewallEnabled   = AttributeKey{wellKnown: "firewall_enabled"}
	ScreenLockEnabled = AttributeKey{wellKnown: "screen_lock_enabled"}
	ScreenLockTimeout = AttributeKey{wellKnown: "screen_lock_timeout"}
	AntivirusActive   = AttributeKey{wellKnown: "antivirus_active"}
	DeviceManaged     = AttributeKey{wellKnown: "device_managed"}
	SecureBootEnabled = AttributeKey{wellKnown: "secure_boot_enabled"}
	TpmPresent        = AttributeKey{wellKnown: "tpm_present"}
)

// Custom builds an extensibility attribute key not covered by the
// well-known set.
func Custom(name string) AttributeKey { return AttributeKey{custom: name} }

// String returns the wire/string form of the key, used both as the
// attestation's attribute map key and for display.
func (k AttributeKey) String() string {
	if k.custom != "" {
		return k.custom
	}
	return k.wellKnown
}

// ValueKind tags which variant of AttributeValue is populated.
type ValueKind int

const (
	ValueBool ValueKind = iota
	ValueString
	ValueNumber
)

// AttributeValue is a closed sum type over the three posture value shapes a
// verifier can report: boolean, string, or integer.
type AttributeValue struct {
	kind   ValueKind
	b      bool
	s      string
	number int64
}

func BoolValue(b bool) AttributeValue     { return AttributeValue{kind: ValueBool, b: b} }
func StringValue(s string) AttributeValue { return AttributeValue{kind: ValueString, s: s} }
func NumberValue(n int64) AttributeValue  { return AttributeValue{kind: ValueNumber, number: n} }

// AsBool returns (value, true) only if this is a boolean attribute.
func (v AttributeValue) AsBool() (bool, bool) {
	if v.kind != ValueBool {
		return false, false
	}
	return v.b, true
}

// AsString returns (value, true) only if this is a string attribute.
func (v AttributeValue) AsString() (string, bool) {
	if v.kind != ValueString {
		return "", false
	}
	return v.s, true
}

// AsNumber returns (value, true) only if this is a numeric attribute.
func (v AttributeValue) AsNumber() (int64, bool) {
	if v.kind != ValueNumber {
		return 0, false
	}
	return v.number, true
}

// Schema is the fixed schema identifier for posture attestations this
// package understands.
const Schema = "fcp.posture.v1"

// Attestation is a signed device posture claim from a trusted verifier.
// Signature verification is the caller's responsibility (via
// pkg/crypto.KeyRing, keyed by VerifierKID) before the attestation is
// handed to Requirements.Evaluate — this package only reasons about
// already-authenticated claims.
type Attestation struct {
	Schema        string
	AttestationID string
	NodeID        contracts.NodeId
	Attributes    map[string]AttributeValue
	IssuedAt      time.Time
	ExpiresAt     time.Time
	VerifierID    string
	VerifierKID   string
	Signature     []byte
}

// IsExpired reports whether the attestation's validity window has closed.
func (a *Attestation) IsExpired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

// IsForNode reports whether the attestation was issued for the given node.
func (a *Attestation) IsForNode(id contracts.NodeId) bool {
	return a.NodeID == id
}

// Attribute looks up a posture attribute by key.
func (a *Attestation) Attribute(key AttributeKey) (AttributeValue, bool) {
	v, ok := a.Attributes[key.String()]
	return v, ok
}

// ObjectID content-addresses this attestation by its attestation ID, the
// same unscoped-bytes scheme spec §4.1 uses for token JTIs.
func (a *Attestation) ObjectID() contracts.ObjectId {
	return contracts.FromUnscopedBytes([]byte(a.AttestationID))
}

// Requirement is a single posture predicate. The seven variants below are
// a closed set; construct with the matching RequireXxx function.
type Requirement struct {
	kind      requirementKind
	attribute AttributeKey
	strVal    string
	strValues []string
	numVal    int64
}

type requirementKind int

const (
	reqTrue requirementKind = iota
	reqFalse
	reqEqual
	reqOneOf
	reqMinVersion
	reqMinValue
	reqMaxValue
)

func RequireTrue(attr AttributeKey) Requirement {
	return Requirement{kind: reqTrue, attribute: attr}
}

func RequireFalse(attr AttributeKey) Requirement {
	return Requirement{kind: reqFalse, attribute: attr}
}

func RequireEqual(attr AttributeKey, value string) Requirement {
	return Requirement{kind: reqEqual, attribute: attr, strVal: value}
}

func RequireOneOf(attr AttributeKey, values []string) Requirement {
	return Requirement{kind: reqOneOf, attribute: attr, strValues: values}
}

func RequireMinVersion(attr AttributeKey, minVersion string) Requirement {
	return Requirement{kind: reqMinVersion, attribute: attr, strVal: minVersion}
}

func RequireMinValue(attr AttributeKey, minValue int64) Requirement {
	return Requirement{kind: reqMinValue, attribute: attr, numVal: minValue}
}

func RequireMaxValue(attr AttributeKey, maxValue int64) Requirement {
	return Requirement{kind: reqMaxValue, attribute: attr, numVal: maxValue}
}

// Attribute returns the attribute this requirement constrains.
func (r Requirement) Attribute() AttributeKey { return r.attribute }

// IsSatisfiedBy evaluates this single requirement against an attestation.
// A missing or type-mismatched attribute fails the requirement rather than
// erroring — absence of evidence is treated as evidence of non-compliance.
func (r Requirement) IsSatisfiedBy(a *Attestation) bool {
	v, ok := a.Attribute(r.attribute)
	if !ok {
		switch r.kind {
		case reqFalse:
			return true // absent is treated the same as explicitly false
		default:
			return false
		}
	}

	switch r.kind {
	case reqTrue:
		b, ok := v.AsBool()
		return ok && b
	case reqFalse:
		b, ok := v.AsBool()
		return !ok || !b
	case reqEqual:
		s, ok := v.AsString()
		return ok && s == r.strVal
	case reqOneOf:
		s, ok := v.AsString()
		if !ok {
			return false
		}
		for _, allowed := range r.strValues {
			if allowed == s {
				return true
			}
		}
		return false
	case reqMinVersion:
		s, ok := v.AsString()
		return ok && versionGTE(s, r.strVal)
	case reqMinValue:
		n, ok := v.AsNumber()
		return ok && n >= r.numVal
	case reqMaxValue:
		n, ok := v.AsNumber()
		return ok && n <= r.numVal
	default:
		return false
	}
}

// Requirements is a zone's full posture policy: a list of predicates that
// must all hold, plus the evaluation envelope (maximum attestation age,
// allowed verifiers).
type Requirements struct {
	Items             []Requirement
	MaxAttestationAge time.Duration
	AllowedVerifiers  []string
}

// DefaultMaxAttestationAge is the fallback retention window (24 hours)
// when a zone does not specify one.
const DefaultMaxAttestationAge = 24 * time.Hour

// CheckResult is the closed outcome of evaluating Requirements against an
// Attestation.
type CheckResult struct {
	kind      checkKind
	attribute AttributeKey
}

type checkKind int

const (
	Satisfied checkKind = iota
	AttestationExpired
	AttestationTooOld
	VerifierNotAllowed
	RequirementNotMet
)

// Kind reports which outcome this result represents.
func (r CheckResult) Kind() checkKind { return r.kind }

// FailedAttribute returns the attribute that failed when Kind() is
// RequirementNotMet; the zero value otherwise.
func (r CheckResult) FailedAttribute() AttributeKey { return r.attribute }

// IsSatisfied reports whether the result is the passing outcome.
func (r CheckResult) IsSatisfied() bool { return r.kind == Satisfied }

func satisfied() CheckResult { return CheckResult{kind: Satisfied} }
func failed(kind checkKind) CheckResult { return CheckResult{kind: kind} }
func requirementNotMet(attr AttributeKey) CheckResult {
	return CheckResult{kind: RequirementNotMet, attribute: attr}
}

// Evaluate runs the four-step posture pipeline spec §4.4 requires, in
// order: expiry, then attestation age, then verifier allowlist, then each
// requirement predicate. The order matters — a caller diagnosing "why was
// this device rejected" sees the most fundamental failure first.
func (r *Requirements) Evaluate(a *Attestation, now time.Time) CheckResult {
	if a.IsExpired(now) {
		return failed(AttestationExpired)
	}

	maxAge := r.MaxAttestationAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAttestationAge
	}
	age := now.Sub(a.IssuedAt)
	if age < 0 || age > maxAge {
		return failed(AttestationTooOld)
	}

	if len(r.AllowedVerifiers) > 0 && !contains(r.AllowedVerifiers, a.VerifierID) {
		return failed(VerifierNotAllowed)
	}

	for _, req := range r.Items {
		if !req.IsSatisfiedBy(a) {
			return requirementNotMet(req.Attribute())
		}
	}

	return satisfied()
}

// IsEmpty reports whether this requirement set imposes no predicates
// (an attestation still must be unexpired and from an allowed verifier).
func (r *Requirements) IsEmpty() bool { return len(r.Items) == 0 }

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// versionGTE reports whether actual >= required. When both strings parse
// with semver.NewVersion ("14.2.1", "2.0.0-rc.1", and also short forms
// like "14" or "10.5", whose missing components it fills with zero) they
// are compared with Masterminds/semver for pre-release/build-metadata
// ordering; anything it can't parse (such as "14.2a.1") falls back to the
// original's digit-group comparison, treating missing trailing components
// as zero.
func versionGTE(actual, required string) bool {
	av, aerr := semver.NewVersion(actual)
	rv, rerr := semver.NewVersion(required)
	if aerr == nil && rerr == nil {
		return av.Compare(rv) >= 0
	}
	return digitGroupGTE(actual, required)
}

func digitGroupGTE(actual, required string) bool {
	a := parseDigitGroups(actual)
	r := parseDigitGroups(required)

	n := len(a)
	if len(r) > n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		var av, rv uint64
		if i < len(a) {
			av = a[i]
		}
		if i < len(r) {
			rv = r[i]
		}
		if av > rv {
			return true
		}
		if av < rv {
			return false
		}
	}
	return true // equal
}

// parseDigitGroups splits s strictly on '.' and parses each whole
// component as a uint64, dropping any component that doesn't parse as one
// entirely — matching fcp-core's version_gte, which does
// `s.split('.').filter_map(|s| s.parse().ok())`. A component like "2a" in
// "14.2a.1" is dropped whole, not digit-extracted, so "14.2a.1" parses as
// [14, 1], not [14, 2, 1].
func parseDigitGroups(s string) []uint64 {
	var out []uint64
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
