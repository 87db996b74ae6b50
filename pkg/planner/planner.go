// Package planner implements the execution planner (spec §4.12): scores
// candidate nodes for a piece of work by capability coverage, local
// symbol availability, and singleton-writer lease ownership, returning a
// deterministic ranking.
package planner

import (
	"sort"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

// Scoring weights. Magnitudes are tuning constants this implementation
// fixes as defaults; spec.md only fixes their sign and relative ordering
// (capability coverage dominates, symbol locality and singleton
// ownership are secondary, staleness is a penalty).
const (
	WeightCapability    = 100.0
	WeightSymbolLocal   = 10.0
	WeightSingletonHeld = 20.0
	PenaltyStale        = 50.0
)

// LeasePurposeSingletonWriter marks a HeldLease as a singleton-writer
// lease for scoring purposes.
const LeasePurposeSingletonWriter = "singleton_writer"

// HeldLease is one lease a candidate node currently holds.
type HeldLease struct {
	Subject string
	Purpose string
}

// NodeProfile is a candidate node's static identity and capability set.
type NodeProfile struct {
	NodeID       contracts.NodeId
	Capabilities []string
	LastSeenMs   int64
}

func (p NodeProfile) hasCapability(cap string) bool {
	for _, c := range p.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// CandidateNode is one node the planner may schedule work to.
type CandidateNode struct {
	Profile      NodeProfile
	LocalSymbols map[contracts.ObjectId]bool
	HeldLeases   []HeldLease
}

func (n CandidateNode) holdsSingletonWriterLease() bool {
	for _, l := range n.HeldLeases {
		if l.Purpose == LeasePurposeSingletonWriter {
			return true
		}
	}
	return false
}

// Input is the set of candidate nodes and ambient time the planner scores
// against.
type Input struct {
	Nodes          []CandidateNode
	NowMs          int64
	SingletonHolder *contracts.NodeId
}

// Context describes what the work being planned requires.
type Context struct {
	RequiredCapabilities         []string
	RequiredSymbols              []contracts.ObjectId
	PrefersLocal                 bool
	ZoneID                       contracts.ZoneId
	RequiresSingletonWriterLease bool
	ForbidSingletonHolder        bool
	StaleThresholdMs             int64
}

// Candidate is one scored, eligible node.
type Candidate struct {
	NodeID contracts.NodeId
	Score  float64
}

func allCapabilitiesPresent(profile NodeProfile, required []string) bool {
	for _, cap := range required {
		if !profile.hasCapability(cap) {
			return false
		}
	}
	return true
}

// Plan scores every node in input against ctx and returns the eligible
// candidates sorted by score descending, ties broken by lexicographically
// smallest node id for determinism. Nodes missing a required capability,
// or that hold the singleton resource when ctx forbids it, are excluded
// entirely rather than merely penalized.
func Plan(input Input, ctx Context) []Candidate {
	candidates := make([]Candidate, 0, len(input.Nodes))

	for _, node := range input.Nodes {
		if !allCapabilitiesPresent(node.Profile, ctx.RequiredCapabilities) {
			continue
		}
		if ctx.ForbidSingletonHolder && input.SingletonHolder != nil && *input.SingletonHolder == node.Profile.NodeID {
			continue
		}

		score := 0.0
		if len(ctx.RequiredCapabilities) > 0 {
			score += WeightCapability
		}
		for _, sym := range ctx.RequiredSymbols {
			if node.LocalSymbols[sym] {
				score += WeightSymbolLocal
			}
		}
		if ctx.RequiresSingletonWriterLease && node.holdsSingletonWriterLease() {
			score += WeightSingletonHeld
		}
		if ctx.StaleThresholdMs > 0 && input.NowMs-node.Profile.LastSeenMs > ctx.StaleThresholdMs {
			score -= PenaltyStale
		}

		candidates = append(candidates, Candidate{NodeID: node.Profile.NodeID, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].NodeID < candidates[j].NodeID
	})
	return candidates
}
