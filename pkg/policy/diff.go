package policy

import (
	"sort"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

// ObjectKind tags which variant of PolicyObject a resolved bundle entry
// holds. Only ZonePolicy has a diff (DiffZonePolicy); no function in this
// package diffs the other kinds or their Opaque bytes.
type ObjectKind int

const (
	KindZonePolicy ObjectKind = iota
	KindZoneDefinition
	KindRole
	KindResource
	KindCapability
)

// Object is the tagged union of policy object kinds a bundle can
// reference, resolved by object id.
type Object struct {
	Kind       ObjectKind
	ZonePolicy *ZonePolicy
	Opaque     []byte // canonical bytes of non-ZonePolicy kinds, for change detection only
}

// Resolved pairs a Bundle with the concrete policy objects its PolicyRefs
// point to, keyed by object id — spec §4.7's PolicyBundleResolved.
type Resolved struct {
	Bundle  *Bundle
	Objects map[contracts.ObjectId]Object
}

// ListDiff is a set-difference diff over one pattern-list field.
type ListDiff struct {
	Added   []string
	Removed []string
}

func diffPatternList(before, after PatternList) ListDiff {
	beforeSet := make(map[string]struct{}, len(before))
	for _, s := range before {
		beforeSet[s] = struct{}{}
	}
	afterSet := make(map[string]struct{}, len(after))
	for _, s := range after {
		afterSet[s] = struct{}{}
	}

	var d ListDiff
	for _, s := range after {
		if _, ok := beforeSet[s]; !ok {
			d.Added = append(d.Added, s)
		}
	}
	for _, s := range before {
		if _, ok := afterSet[s]; !ok {
			d.Removed = append(d.Removed, s)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	return d
}

func diffCapabilityCeiling(before, after []contracts.CapabilityId) ListDiff {
	toStrings := func(cs []contracts.CapabilityId) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = string(c)
		}
		return out
	}
	return diffPatternList(toStrings(before), toStrings(after))
}

// ChangedFields lists the scalar ZonePolicy fields whose canonical form
// differs between the two sides of a diff.
type ChangedFields struct {
	TransportPolicy bool
	DecisionReceipt bool
	RequiresPosture bool
}

func (c ChangedFields) any() bool {
	return c.TransportPolicy || c.DecisionReceipt || c.RequiresPosture
}

// ZonePolicyDiff is the structured diff of two ZonePolicy objects.
type ZonePolicyDiff struct {
	PrincipalAllow    ListDiff
	PrincipalDeny     ListDiff
	ConnectorAllow    ListDiff
	ConnectorDeny     ListDiff
	CapabilityAllow   ListDiff
	CapabilityDeny    ListDiff
	CapabilityCeiling ListDiff
	Changed           ChangedFields
	RiskFlags         []string
}

// Risk flag strings, emitted when a diff broadens what a zone permits.
const (
	RiskPrincipalAllowExpanded  = "principal_allow_expanded"
	RiskConnectorAllowExpanded  = "connector_allow_expanded"
	RiskCapabilityAllowExpanded = "capability_allow_expanded"
	RiskTransportDerpEnabled    = "transport_derp_enabled"
	RiskTransportFunnelEnabled  = "transport_funnel_enabled"
	RiskTransportLanEnabled     = "transport_lan_enabled"
)

// DiffZonePolicy compares two ZonePolicy objects field by field, per spec
// §4.7: set-difference diffs for pattern-list fields, equality checks
// (via canonical form) for scalar fields, and risk flags for any change
// that broadens what the zone permits.
func DiffZonePolicy(before, after *ZonePolicy) ZonePolicyDiff {
	d := ZonePolicyDiff{
		PrincipalAllow:    diffPatternList(before.PrincipalAllow, after.PrincipalAllow),
		PrincipalDeny:     diffPatternList(before.PrincipalDeny, after.PrincipalDeny),
		ConnectorAllow:    diffPatternList(before.ConnectorAllow, after.ConnectorAllow),
		ConnectorDeny:     diffPatternList(before.ConnectorDeny, after.ConnectorDeny),
		CapabilityAllow:   diffPatternList(before.CapabilityAllow, after.CapabilityAllow),
		CapabilityDeny:    diffPatternList(before.CapabilityDeny, after.CapabilityDeny),
		CapabilityCeiling: diffCapabilityCeiling(before.CapabilityCeiling, after.CapabilityCeiling),
	}

	beforeTransport := before.TransportPolicy
	afterTransport := after.TransportPolicy
	d.Changed.TransportPolicy = beforeTransport != afterTransport
	d.Changed.DecisionReceipt = before.DecisionReceipt.ApprovalThreshold != after.DecisionReceipt.ApprovalThreshold
	d.Changed.RequiresPosture = (before.RequiresPosture != nil) != (after.RequiresPosture != nil)

	if len(d.PrincipalAllow.Added) > 0 {
		d.RiskFlags = append(d.RiskFlags, RiskPrincipalAllowExpanded)
	}
	if len(d.ConnectorAllow.Added) > 0 {
		d.RiskFlags = append(d.RiskFlags, RiskConnectorAllowExpanded)
	}
	if len(d.CapabilityAllow.Added) > 0 {
		d.RiskFlags = append(d.RiskFlags, RiskCapabilityAllowExpanded)
	}
	if !beforeTransport.AllowDerp && afterTransport.AllowDerp {
		d.RiskFlags = append(d.RiskFlags, RiskTransportDerpEnabled)
	}
	if !beforeTransport.AllowFunnel && afterTransport.AllowFunnel {
		d.RiskFlags = append(d.RiskFlags, RiskTransportFunnelEnabled)
	}
	if !beforeTransport.AllowLan && afterTransport.AllowLan {
		d.RiskFlags = append(d.RiskFlags, RiskTransportLanEnabled)
	}

	return d
}
