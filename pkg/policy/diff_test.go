package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// S2 — Capability-allow... here exercised against connector_allow per the
// scenario's actual field (connector_allow=[] → connector_allow=[fcp.test:*]).
func TestDiffZonePolicy_S2_ConnectorAllowExpansionRiskFlag(t *testing.T) {
	before := emptyZonePolicy()
	after := emptyZonePolicy()
	after.ConnectorAllow = PatternList{"fcp.test:*"}

	d := DiffZonePolicy(before, after)
	assert.Equal(t, []string{"fcp.test:*"}, d.ConnectorAllow.Added)
	assert.Contains(t, d.RiskFlags, RiskConnectorAllowExpanded)
}

// S3 — Transport DERP risk flag.
func TestDiffZonePolicy_S3_TransportDerpRisk(t *testing.T) {
	before := emptyZonePolicy()
	before.TransportPolicy.AllowDerp = false
	after := emptyZonePolicy()
	after.TransportPolicy.AllowDerp = true

	d := DiffZonePolicy(before, after)
	assert.Contains(t, d.RiskFlags, RiskTransportDerpEnabled)
	assert.True(t, d.Changed.TransportPolicy)
}

func TestDiffZonePolicy_NoChangeNoRiskFlags(t *testing.T) {
	before := emptyZonePolicy()
	after := emptyZonePolicy()

	d := DiffZonePolicy(before, after)
	assert.Empty(t, d.RiskFlags)
	assert.False(t, d.Changed.TransportPolicy)
}

func TestDiffZonePolicy_RemovedPatternsNotFlaggedAsRisk(t *testing.T) {
	before := emptyZonePolicy()
	before.PrincipalAllow = PatternList{"alice", "bob"}
	after := emptyZonePolicy()
	after.PrincipalAllow = PatternList{"alice"}

	d := DiffZonePolicy(before, after)
	assert.Equal(t, []string{"bob"}, d.PrincipalAllow.Removed)
	assert.Empty(t, d.PrincipalAllow.Added)
	assert.NotContains(t, d.RiskFlags, RiskPrincipalAllowExpanded)
}
