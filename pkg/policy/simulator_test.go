package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
	"github.com/flywheel-mesh/meshcore/pkg/posture"
)

func emptyZonePolicy() *ZonePolicy {
	return &ZonePolicy{
		SchemaID: "zone.v1",
		ZoneID:   contracts.ZoneId("z:work"),
		TransportPolicy: TransportPolicy{
			AllowLan: true,
		},
	}
}

func TestSimulate_S1_AllowPath(t *testing.T) {
	z := emptyZonePolicy()
	input := &SimulationInput{
		ZonePolicy: z,
		InvokeRequest: InvokeRequest{
			Principal:  "alice",
			Connector:  "fcp.test",
			Capability: "cap.read",
		},
		Transport:       contracts.TransportLan,
		CheckpointFresh: true,
		RevocationFresh: true,
		SafetyTier:      contracts.SafetyTierSafe,
	}

	receipt := Simulate(input)
	require.Equal(t, DecisionAllow, receipt.Decision)
	assert.Equal(t, ReasonPermitted, receipt.ReasonCode)
}

func TestSimulate_TransportForbidden(t *testing.T) {
	z := emptyZonePolicy() // only Lan allowed
	input := &SimulationInput{
		ZonePolicy:      z,
		Transport:       contracts.TransportDerp,
		CheckpointFresh: true,
		RevocationFresh: true,
	}
	receipt := Simulate(input)
	assert.Equal(t, DecisionDeny, receipt.Decision)
	assert.Equal(t, ReasonTransportForbidden, receipt.ReasonCode)
}

func TestSimulate_PrincipalDenyWinsOverAllow(t *testing.T) {
	z := emptyZonePolicy()
	z.PrincipalDeny = PatternList{"evil-*"}
	z.PrincipalAllow = PatternList{"*"}

	input := &SimulationInput{
		ZonePolicy:      z,
		InvokeRequest:   InvokeRequest{Principal: "evil-actor"},
		Transport:       contracts.TransportLan,
		CheckpointFresh: true,
		RevocationFresh: true,
	}
	receipt := Simulate(input)
	assert.Equal(t, ReasonPrincipalDenied, receipt.ReasonCode)
}

func TestSimulate_CapabilityCeilingExceeded(t *testing.T) {
	z := emptyZonePolicy()
	z.CapabilityCeiling = []contracts.CapabilityId{"cap.read"}

	input := &SimulationInput{
		ZonePolicy:      z,
		InvokeRequest:   InvokeRequest{Capability: "cap.write"},
		Transport:       contracts.TransportLan,
		CheckpointFresh: true,
		RevocationFresh: true,
	}
	receipt := Simulate(input)
	assert.Equal(t, ReasonCapabilityExceedsCeiling, receipt.ReasonCode)
}

func TestSimulate_NonMatchingAllowListDenies(t *testing.T) {
	z := emptyZonePolicy()
	z.PrincipalAllow = PatternList{"only-this-one"}

	input := &SimulationInput{
		ZonePolicy:      z,
		InvokeRequest:   InvokeRequest{Principal: "someone-else"},
		Transport:       contracts.TransportLan,
		CheckpointFresh: true,
		RevocationFresh: true,
	}
	receipt := Simulate(input)
	assert.Equal(t, ReasonPrincipalNotAllowed, receipt.ReasonCode)
}

func TestSimulate_FreshnessGates(t *testing.T) {
	z := emptyZonePolicy()

	checkpointStale := &SimulationInput{
		ZonePolicy:      z,
		Transport:       contracts.TransportLan,
		CheckpointFresh: false,
		RevocationFresh: true,
	}
	assert.Equal(t, ReasonCheckpointStale, Simulate(checkpointStale).ReasonCode)

	revocationStale := &SimulationInput{
		ZonePolicy:      z,
		Transport:       contracts.TransportLan,
		CheckpointFresh: true,
		RevocationFresh: false,
	}
	assert.Equal(t, ReasonRevocationStale, Simulate(revocationStale).ReasonCode)
}

func TestSimulate_FreshnessGates_SkippedWhenPolicyMarksOptional(t *testing.T) {
	z := emptyZonePolicy()
	z.CheckpointFreshnessOptional = true
	z.RevocationFreshnessOptional = true

	input := &SimulationInput{
		ZonePolicy:      z,
		Transport:       contracts.TransportLan,
		CheckpointFresh: false,
		RevocationFresh: false,
	}
	receipt := Simulate(input)
	assert.Equal(t, DecisionAllow, receipt.Decision)
	assert.Equal(t, ReasonPermitted, receipt.ReasonCode)
}

func TestSimulate_SafetyTierRequiresApproval(t *testing.T) {
	z := emptyZonePolicy()
	z.DecisionReceipt.ApprovalThreshold = contracts.SafetyTierSensitive

	input := &SimulationInput{
		ZonePolicy:                z,
		Transport:                 contracts.TransportLan,
		CheckpointFresh:           true,
		RevocationFresh:           true,
		SafetyTier:                contracts.SafetyTierSensitive,
		ExecutionApprovalRequired: true,
	}
	receipt := Simulate(input)
	assert.Equal(t, DecisionRequireApproval, receipt.Decision)
	assert.Equal(t, ReasonApprovalRequired, receipt.ReasonCode)
}

func TestSimulate_PostureAttestationMissingIsDenyNotAllow(t *testing.T) {
	z := emptyZonePolicy()
	z.RequiresPosture = &posture.Requirements{
		Items: []posture.Requirement{posture.RequireTrue(posture.DiskEncryption)},
	}

	input := &SimulationInput{
		ZonePolicy:      z,
		Transport:       contracts.TransportLan,
		CheckpointFresh: true,
		RevocationFresh: true,
	}
	receipt := Simulate(input)
	assert.Equal(t, DecisionDeny, receipt.Decision)
	assert.Equal(t, ReasonPostureAttestationMissing, receipt.ReasonCode)
}
