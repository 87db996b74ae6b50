package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

func node(id string, caps []string, lastSeenMs int64, symbols []contracts.ObjectId, leases []HeldLease) CandidateNode {
	local := make(map[contracts.ObjectId]bool, len(symbols))
	for _, s := range symbols {
		local[s] = true
	}
	return CandidateNode{
		Profile:      NodeProfile{NodeID: contracts.NodeId(id), Capabilities: caps, LastSeenMs: lastSeenMs},
		LocalSymbols: local,
		HeldLeases:   leases,
	}
}

func objID(b byte) contracts.ObjectId {
	var id contracts.ObjectId
	id[0] = b
	return id
}

func TestPlan_ExcludesNodesMissingRequiredCapability(t *testing.T) {
	input := Input{
		Nodes: []CandidateNode{
			node("a", []string{"exec"}, 1000, nil, nil),
			node("b", []string{}, 1000, nil, nil),
		},
		NowMs: 1000,
	}
	ctx := Context{RequiredCapabilities: []string{"exec"}}

	candidates := Plan(input, ctx)
	assert.Len(t, candidates, 1)
	assert.Equal(t, contracts.NodeId("a"), candidates[0].NodeID)
}

func TestPlan_ScoresSymbolLocalityPerSymbol(t *testing.T) {
	s1, s2 := objID(1), objID(2)
	input := Input{
		Nodes: []CandidateNode{
			node("a", nil, 1000, []contracts.ObjectId{s1}, nil),
			node("b", nil, 1000, []contracts.ObjectId{s1, s2}, nil),
		},
		NowMs: 1000,
	}
	ctx := Context{RequiredSymbols: []contracts.ObjectId{s1, s2}}

	candidates := Plan(input, ctx)
	assert.Equal(t, contracts.NodeId("b"), candidates[0].NodeID)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)
}

func TestPlan_SingletonWriterLeaseBoostsScore(t *testing.T) {
	input := Input{
		Nodes: []CandidateNode{
			node("a", nil, 1000, nil, []HeldLease{{Subject: "res", Purpose: LeasePurposeSingletonWriter}}),
			node("b", nil, 1000, nil, nil),
		},
		NowMs: 1000,
	}
	ctx := Context{RequiresSingletonWriterLease: true}

	candidates := Plan(input, ctx)
	assert.Equal(t, contracts.NodeId("a"), candidates[0].NodeID)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)
}

func TestPlan_ExcludesSingletonHolderWhenForbidden(t *testing.T) {
	holder := contracts.NodeId("a")
	input := Input{
		Nodes: []CandidateNode{
			node("a", nil, 1000, nil, nil),
			node("b", nil, 1000, nil, nil),
		},
		NowMs:           1000,
		SingletonHolder: &holder,
	}
	ctx := Context{ForbidSingletonHolder: true}

	candidates := Plan(input, ctx)
	assert.Len(t, candidates, 1)
	assert.Equal(t, contracts.NodeId("b"), candidates[0].NodeID)
}

func TestPlan_StalenessPenalized(t *testing.T) {
	input := Input{
		Nodes: []CandidateNode{
			node("a", nil, 100, nil, nil),
			node("b", nil, 9000, nil, nil),
		},
		NowMs: 10000,
	}
	ctx := Context{StaleThresholdMs: 5000}

	candidates := Plan(input, ctx)
	assert.Equal(t, contracts.NodeId("b"), candidates[0].NodeID)
}

func TestPlan_TiesBrokenByLexicographicNodeID(t *testing.T) {
	input := Input{
		Nodes: []CandidateNode{
			node("zeta", nil, 1000, nil, nil),
			node("alpha", nil, 1000, nil, nil),
		},
		NowMs: 1000,
	}

	candidates := Plan(input, Context{})
	assert.Equal(t, contracts.NodeId("alpha"), candidates[0].NodeID)
	assert.Equal(t, contracts.NodeId("zeta"), candidates[1].NodeID)
}

func TestPlan_EmptyNodesReturnsEmpty(t *testing.T) {
	candidates := Plan(Input{}, Context{})
	assert.Empty(t, candidates)
}
