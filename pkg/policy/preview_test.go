package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

func TestPreview_DetectsChangedDecision(t *testing.T) {
	before := emptyZonePolicy()
	after := emptyZonePolicy()
	after.PrincipalDeny = PatternList{"alice"}

	samples := []PreviewSample{
		{
			Label: "alice-read",
			Input: SimulationInput{
				InvokeRequest:   InvokeRequest{Principal: "alice", Capability: "cap.read"},
				Transport:       contracts.TransportLan,
				CheckpointFresh: true,
				RevocationFresh: true,
			},
		},
		{
			Label: "bob-read",
			Input: SimulationInput{
				InvokeRequest:   InvokeRequest{Principal: "bob", Capability: "cap.read"},
				Transport:       contracts.TransportLan,
				CheckpointFresh: true,
				RevocationFresh: true,
			},
		},
	}

	report := Preview(before, after, samples, nil, "")
	assert.Equal(t, []string{"alice-read"}, report.Changed)
	assert.Len(t, report.Before, 2)
	assert.Len(t, report.After, 2)
}

func TestPreview_ExplainerRendersChangedSampleExplanation(t *testing.T) {
	before := emptyZonePolicy()
	after := emptyZonePolicy()
	after.PrincipalDeny = PatternList{"alice"}

	samples := []PreviewSample{
		{
			Label: "alice-read",
			Input: SimulationInput{
				InvokeRequest:   InvokeRequest{Principal: "alice", Capability: "cap.read"},
				Transport:       contracts.TransportLan,
				CheckpointFresh: true,
				RevocationFresh: true,
			},
		},
	}

	explainer, err := NewExplainer()
	assert.NoError(t, err)
	assert.NoError(t, explainer.Compile("default", `before_decision + " -> " + after_decision`))

	report := Preview(before, after, samples, explainer, "default")
	assert.Equal(t, []string{"alice-read"}, report.Changed)
	assert.Equal(t, "allow -> deny", report.Explanations["alice-read"])
}

func TestPlanRollback_FieldsPopulated(t *testing.T) {
	plan := PlanRollback("z:work", "bundle-current", "bundle-previous")
	assert.Equal(t, RollbackBundleRevert, plan.PlanType)
	assert.Equal(t, contracts.ZoneId("z:work"), plan.ZoneID)
	assert.Equal(t, "bundle-current", plan.CurrentPolicyID)
	assert.Equal(t, "bundle-previous", plan.PreviousPolicyID)
}
