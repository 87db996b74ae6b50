// Package policy implements the zone policy object, the decision
// simulator that evaluates invoke requests against it (spec §4.6), and the
// bundle manager that builds, hashes, signs, diffs, previews, and
// validates signed policy bundles (spec §4.7).
package policy

import (
	"time"

	"github.com/ryanuber/go-glob"

	"github.com/flywheel-mesh/meshcore/pkg/canonicalize"
	"github.com/flywheel-mesh/meshcore/pkg/contracts"
	"github.com/flywheel-mesh/meshcore/pkg/posture"
)

// TransportPolicy gates which transports a zone permits.
type TransportPolicy struct {
	AllowLan    bool
	AllowDerp   bool
	AllowFunnel bool
}

func (t TransportPolicy) allows(tr contracts.Transport) bool {
	switch tr {
	case contracts.TransportLan:
		return t.AllowLan
	case contracts.TransportDerp:
		return t.AllowDerp
	case contracts.TransportFunnel:
		return t.AllowFunnel
	default:
		return false
	}
}

// DecisionReceiptPolicy controls when a decision requires elevated
// approval: a request whose safety tier is at or above ApprovalThreshold
// and whose input sets ExecutionApprovalRequired is downgraded from allow
// to require_approval.
type DecisionReceiptPolicy struct {
	ApprovalThreshold contracts.SafetyTier
}

// UsageBudget is an optional cap the zone records. No code in this module
// reads it: the admission controller takes its budgets from
// admission.Policy.
type UsageBudget struct {
	MaxBytesPerMinute   uint64
	MaxSymbolsPerMinute uint64
}

// PatternList is an ordered set of glob-style strings (literal match, or
// `*` matching any run of characters).
type PatternList []string

// MatchesAny reports whether subject matches any pattern in the list.
func (p PatternList) MatchesAny(subject string) bool {
	for _, pattern := range p {
		if glob.Glob(pattern, subject) {
			return true
		}
	}
	return false
}

// ZonePolicy is the per-zone policy object spec §3 defines: allow/deny
// pattern lists, a capability ceiling, transport policy, receipt policy,
// optional usage budget, and optional posture requirements.
type ZonePolicy struct {
	SchemaID   string
	ZoneID     contracts.ZoneId
	Provenance string
	CreatedAt  time.Time

	PrincipalAllow  PatternList
	PrincipalDeny   PatternList
	ConnectorAllow  PatternList
	ConnectorDeny   PatternList
	CapabilityAllow PatternList
	CapabilityDeny  PatternList

	CapabilityCeiling []contracts.CapabilityId

	TransportPolicy TransportPolicy
	DecisionReceipt DecisionReceiptPolicy
	UsageBudget     *UsageBudget
	RequiresPosture *posture.Requirements

	// CheckpointFreshnessOptional/RevocationFreshnessOptional mark the
	// corresponding freshness check in Simulate as non-fatal: per spec
	// §4.6 step 9, checkpoint_fresh and revocation_fresh must both be
	// true unless the zone policy marks them optional.
	CheckpointFreshnessOptional bool
	RevocationFreshnessOptional bool
}

// CanonicalFields renders the zone policy in the fixed field order its
// object id and bundle signature are computed over.
func (z *ZonePolicy) CanonicalFields() canonicalize.Fields {
	ceiling := make([]canonicalize.Value, len(z.CapabilityCeiling))
	for i, c := range z.CapabilityCeiling {
		ceiling[i] = canonicalize.String(string(c))
	}
	return canonicalize.Fields{
		canonicalize.F("schema_id", canonicalize.String(z.SchemaID)),
		canonicalize.F("zone_id", canonicalize.String(string(z.ZoneID))),
		canonicalize.F("principal_allow", stringListValue(z.PrincipalAllow)),
		canonicalize.F("principal_deny", stringListValue(z.PrincipalDeny)),
		canonicalize.F("connector_allow", stringListValue(z.ConnectorAllow)),
		canonicalize.F("connector_deny", stringListValue(z.ConnectorDeny)),
		canonicalize.F("capability_allow", stringListValue(z.CapabilityAllow)),
		canonicalize.F("capability_deny", stringListValue(z.CapabilityDeny)),
		canonicalize.F("capability_ceiling", canonicalize.List(ceiling...)),
		canonicalize.F("transport_allow_lan", canonicalize.Bool(z.TransportPolicy.AllowLan)),
		canonicalize.F("transport_allow_derp", canonicalize.Bool(z.TransportPolicy.AllowDerp)),
		canonicalize.F("transport_allow_funnel", canonicalize.Bool(z.TransportPolicy.AllowFunnel)),
		canonicalize.F("approval_threshold", canonicalize.Int64(int64(z.DecisionReceipt.ApprovalThreshold))),
		canonicalize.F("requires_posture", canonicalize.Bool(z.RequiresPosture != nil)),
		canonicalize.F("checkpoint_freshness_optional", canonicalize.Bool(z.CheckpointFreshnessOptional)),
		canonicalize.F("revocation_freshness_optional", canonicalize.Bool(z.RevocationFreshnessOptional)),
	}
}

func stringListValue(ss []string) canonicalize.Value {
	vs := make([]canonicalize.Value, len(ss))
	for i, s := range ss {
		vs[i] = canonicalize.String(s)
	}
	return canonicalize.List(vs...)
}

// ObjectID content-addresses this zone policy.
func (z *ZonePolicy) ObjectID() (contracts.ObjectId, error) {
	return canonicalize.ObjectID(z)
}
