package policy

import (
	"time"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
	"github.com/flywheel-mesh/meshcore/pkg/posture"
)

// Decision is the closed outcome class a DecisionReceipt carries.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionDeny            Decision = "deny"
	DecisionRequireApproval Decision = "require_approval"
)

// Reason codes. Each is namespaced `<decision>:<cause>` so a receipt's
// reason code alone identifies both the decision class and why, matching
// spec §4.6's "first matching rule wins; each records a reason_code".
const (
	ReasonTransportForbidden        = "deny:transport_forbidden"
	ReasonPrincipalDenied           = "deny:principal_denied"
	ReasonConnectorDenied           = "deny:connector_denied"
	ReasonCapabilityDenied          = "deny:capability_denied"
	ReasonCapabilityExceedsCeiling  = "deny:capability_exceeds_ceiling"
	ReasonPrincipalNotAllowed       = "deny:principal_not_allowed"
	ReasonConnectorNotAllowed       = "deny:connector_not_allowed"
	ReasonCapabilityNotAllowed      = "deny:capability_not_allowed"
	ReasonPostureAttestationMissing = "deny:posture_attestation_missing"
	ReasonPostureRequirementNotMet  = "deny:posture_requirement_not_met"
	ReasonCheckpointStale           = "deny:checkpoint_stale"
	ReasonRevocationStale           = "deny:revocation_stale"
	ReasonApprovalRequired          = "require_approval:approval_required"
	ReasonPermitted                 = "allow:permitted"
)

// InvokeRequest is the minimal shape of a request the simulator reasons
// about: the identity attempting the operation, what it is trying to do,
// and to what.
type InvokeRequest struct {
	RequestID  contracts.RequestId
	Principal  string
	Connector  string
	Capability contracts.CapabilityId
}

// SimulationInput is everything the decision pipeline consults, mirroring
// spec §4.6's PolicySimulationInput verbatim.
type SimulationInput struct {
	ZonePolicy                *ZonePolicy
	InvokeRequest             InvokeRequest
	Transport                 contracts.Transport
	CheckpointFresh           bool
	RevocationFresh           bool
	ExecutionApprovalRequired bool
	SanitizerReceipts         []contracts.ObjectId
	RelatedObjectIDs          []contracts.ObjectId
	RequestObjectID           *contracts.ObjectId
	RequestInputHash          *contracts.ObjectId
	SafetyTier                contracts.SafetyTier
	CapabilityID              *contracts.ObjectId
	ProvenanceRecord          *contracts.ObjectId
	NowMs                     int64
	PostureAttestation        *posture.Attestation
}

func (i *SimulationInput) now() time.Time {
	if i.NowMs == 0 {
		return time.Now()
	}
	return time.UnixMilli(i.NowMs)
}

// Receipt is the auditable outcome of one simulation, spec §3's
// DecisionReceipt.
type Receipt struct {
	Decision    Decision
	ReasonCode  string
	Evidence    []contracts.ObjectId
	Explanation string
	PolicySeq   uint64
	BundleID    string
	ComputedAt  time.Time
}

func deny(reason, explanation string, evidence []contracts.ObjectId, now time.Time) Receipt {
	return Receipt{Decision: DecisionDeny, ReasonCode: reason, Explanation: explanation, Evidence: evidence, ComputedAt: now}
}

// Simulate runs the eleven-rule decision pipeline spec §4.6 defines,
// first-match-wins, and returns the resulting receipt. Every check reads
// only the input; no capability verifier is consulted.
func Simulate(input *SimulationInput) Receipt {
	z := input.ZonePolicy
	now := input.now()
	var evidence []contracts.ObjectId
	evidence = append(evidence, input.RelatedObjectIDs...)
	evidence = append(evidence, input.SanitizerReceipts...)

	// 1. Transport gate.
	if !z.TransportPolicy.allows(input.Transport) {
		return deny(ReasonTransportForbidden, "transport not permitted by zone policy", evidence, now)
	}

	// 2. Principal deny.
	if z.PrincipalDeny.MatchesAny(input.InvokeRequest.Principal) {
		return deny(ReasonPrincipalDenied, "principal matches a deny pattern", evidence, now)
	}

	// 3. Connector deny.
	if z.ConnectorDeny.MatchesAny(input.InvokeRequest.Connector) {
		return deny(ReasonConnectorDenied, "connector matches a deny pattern", evidence, now)
	}

	// 4. Capability deny.
	if z.CapabilityDeny.MatchesAny(string(input.InvokeRequest.Capability)) {
		return deny(ReasonCapabilityDenied, "capability matches a deny pattern", evidence, now)
	}

	// 5. Capability ceiling.
	if len(z.CapabilityCeiling) > 0 && !capabilityInCeiling(z.CapabilityCeiling, input.InvokeRequest.Capability) {
		return deny(ReasonCapabilityExceedsCeiling, "capability exceeds zone ceiling", evidence, now)
	}

	// 6. Allow-list (principal).
	if len(z.PrincipalAllow) > 0 && !z.PrincipalAllow.MatchesAny(input.InvokeRequest.Principal) {
		return deny(ReasonPrincipalNotAllowed, "principal not in allow-list", evidence, now)
	}

	// 7. Allow-list (connector, capability).
	if len(z.ConnectorAllow) > 0 && !z.ConnectorAllow.MatchesAny(input.InvokeRequest.Connector) {
		return deny(ReasonConnectorNotAllowed, "connector not in allow-list", evidence, now)
	}
	if len(z.CapabilityAllow) > 0 && !z.CapabilityAllow.MatchesAny(string(input.InvokeRequest.Capability)) {
		return deny(ReasonCapabilityNotAllowed, "capability not in allow-list", evidence, now)
	}

	// 8. Posture.
	if z.RequiresPosture != nil {
		if input.PostureAttestation == nil {
			return deny(ReasonPostureAttestationMissing, "zone requires posture attestation; none supplied", evidence, now)
		}
		result := z.RequiresPosture.Evaluate(input.PostureAttestation, now)
		if !result.IsSatisfied() {
			return deny(ReasonPostureRequirementNotMet, "posture requirement not met", evidence, now)
		}
		evidence = append(evidence, input.PostureAttestation.ObjectID())
	}

	// 9. Freshness, unless the zone policy marks a check optional.
	if !z.CheckpointFreshnessOptional && !input.CheckpointFresh {
		return deny(ReasonCheckpointStale, "checkpoint is stale", evidence, now)
	}
	if !z.RevocationFreshnessOptional && !input.RevocationFresh {
		return deny(ReasonRevocationStale, "revocation state is stale", evidence, now)
	}

	// 10. Safety tier gate.
	if input.SafetyTier >= z.DecisionReceipt.ApprovalThreshold && input.ExecutionApprovalRequired {
		return Receipt{
			Decision:    DecisionRequireApproval,
			ReasonCode:  ReasonApprovalRequired,
			Evidence:    evidence,
			Explanation: "safety tier meets or exceeds the zone's approval threshold",
			ComputedAt:  now,
		}
	}

	// 11. Otherwise, allow.
	return Receipt{
		Decision:    DecisionAllow,
		ReasonCode:  ReasonPermitted,
		Evidence:    evidence,
		Explanation: "no deny rule matched; request permitted",
		ComputedAt:  now,
	}
}

func capabilityInCeiling(ceiling []contracts.CapabilityId, cap contracts.CapabilityId) bool {
	for _, c := range ceiling {
		if c == cap {
			return true
		}
	}
	return false
}
