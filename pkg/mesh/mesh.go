// Package mesh implements the mesh node orchestrator (spec §4.13): the
// glue that composes admission control, gossip, symbol repair, the
// degraded-mode codec, execution planning, and capability enforcement
// into a single node, mirroring fcp-mesh's MeshNode.
package mesh

import (
	"time"

	"github.com/google/uuid"

	"github.com/flywheel-mesh/meshcore/pkg/admission"
	"github.com/flywheel-mesh/meshcore/pkg/capability"
	"github.com/flywheel-mesh/meshcore/pkg/contracts"
	"github.com/flywheel-mesh/meshcore/pkg/degraded"
	"github.com/flywheel-mesh/meshcore/pkg/gossip"
	"github.com/flywheel-mesh/meshcore/pkg/planner"
	"github.com/flywheel-mesh/meshcore/pkg/repair"
	"github.com/flywheel-mesh/meshcore/pkg/trace"
)

// Session is an authenticated mesh session with a peer.
type Session struct {
	Peer      contracts.NodeId
	SessionID string
	Suite     string
}

// PeerState is the locally tracked view of a peer: its device profile,
// the objects it reports holding locally, and any leases it holds.
type PeerState struct {
	Profile      planner.NodeProfile
	LocalSymbols map[contracts.ObjectId]bool
	HeldLeases   []planner.HeldLease
	LastSeenMs   int64
}

// Error is the stable reason-code taxonomy for orchestrator-level
// enforcement failures spec §4.13 describes.
type Error struct {
	code string
}

func (e *Error) Error() string { return "mesh: " + e.code }

var ErrInvalidIdempotencyKey = &Error{"invalid_idempotency_key"}

// InvokeRequest is the shape enforce_invoke_request validates before
// handing off to the capability verifier.
type InvokeRequest struct {
	ID                 contracts.RequestId
	Operation          string
	CapabilityToken    *capability.Token
	HolderProof        *capability.HolderProof
	RequestIDForHolder contracts.RequestId
}

func validateIdempotencyKey(id contracts.RequestId) error {
	if id == "" {
		return ErrInvalidIdempotencyKey
	}
	return nil
}

// NewSessionID mints a fresh session identifier for RegisterSession, the
// way a real transport handshake would rather than a caller-picked string.
func NewSessionID() string { return uuid.NewString() }

// NewRequestID mints a fresh idempotency key for an InvokeRequest a local
// caller originates (as opposed to one relayed from a peer, which already
// carries its own request id).
func NewRequestID() contracts.RequestId { return contracts.RequestId(uuid.NewString()) }

// Node is a single mesh participant: local identity plus every component
// spec §4.13 lists it as owning.
type Node struct {
	NodeID contracts.NodeId

	Admission *admission.Controller
	Gossip    map[contracts.ZoneId]*gossip.Tracker
	Repair    *repair.Engine
	Decoder   *degraded.Decoder
	Verifier  *capability.Verifier

	sessions  map[contracts.NodeId]Session
	peerKeys  map[contracts.NodeId][]byte
	peers     map[contracts.NodeId]*PeerState
	local     PeerState
	senderInstanceID string

	Trace *trace.Capture
}

// NewNode constructs an empty Node. trace may be nil to disable capture.
func NewNode(nodeID contracts.NodeId, adm *admission.Controller, repairEngine *repair.Engine, verifier *capability.Verifier, senderInstanceID string, tr *trace.Capture) *Node {
	return &Node{
		NodeID:           nodeID,
		Admission:        adm,
		Gossip:           make(map[contracts.ZoneId]*gossip.Tracker),
		Repair:           repairEngine,
		Decoder:          degraded.NewDecoder(),
		Verifier:         verifier,
		sessions:         make(map[contracts.NodeId]Session),
		peerKeys:         make(map[contracts.NodeId][]byte),
		peers:            make(map[contracts.NodeId]*PeerState),
		senderInstanceID: senderInstanceID,
		Trace:            tr,
	}
}

func (n *Node) gossipFor(zone contracts.ZoneId) *gossip.Tracker {
	t, ok := n.Gossip[zone]
	if !ok {
		t = gossip.NewTracker()
		n.Gossip[zone] = t
	}
	return t
}

// AnnounceObject records an object's admission class for a zone and
// emits a gossip trace event.
func (n *Node) AnnounceObject(zone contracts.ZoneId, id contracts.ObjectId, class gossip.Class, epoch int64, nowMs int64) bool {
	modified := n.gossipFor(zone).AnnounceObject(id, class, epoch)
	n.Trace.Record(trace.Event{
		TimestampMs: nowMs,
		Kind:        trace.KindGossip,
		Gossip:      &trace.GossipEvent{Zone: string(zone), ObjectID: id.String(), Modified: modified},
	})
	return modified
}

// AnnounceSymbol records one symbol's admission class for a zone.
func (n *Node) AnnounceSymbol(zone contracts.ZoneId, id contracts.ObjectId, esi uint32, class gossip.Class, epoch int64) bool {
	return n.gossipFor(zone).AnnounceSymbol(id, esi, class, epoch)
}

// RegisterSession stores a newly authenticated session, marks the peer
// authenticated in admission, and emits a session-established trace
// event.
func (n *Node) RegisterSession(session Session, zone contracts.ZoneId, nowMs int64) {
	if n.Admission != nil {
		n.Admission.SetAuthenticated(admission.PeerKey{Peer: session.Peer, Zone: zone}, true)
	}
	n.sessions[session.Peer] = session
	n.Trace.Record(trace.Event{
		TimestampMs: nowMs,
		Kind:        trace.KindSession,
		Session: &trace.SessionEvent{
			Peer:       string(session.Peer),
			SessionID:  session.SessionID,
			Transition: "established",
			Suite:      session.Suite,
		},
	})
}

// RemoveSession tears down a peer's session, marks it unauthenticated,
// and emits a session-closed trace event.
func (n *Node) RemoveSession(peer contracts.NodeId, zone contracts.ZoneId, nowMs int64) {
	session, ok := n.sessions[peer]
	delete(n.sessions, peer)
	if n.Admission != nil {
		n.Admission.SetAuthenticated(admission.PeerKey{Peer: peer, Zone: zone}, false)
	}
	if !ok {
		return
	}
	n.Trace.Record(trace.Event{
		TimestampMs: nowMs,
		Kind:        trace.KindSession,
		Session: &trace.SessionEvent{
			Peer:       string(peer),
			SessionID:  session.SessionID,
			Transition: "closed",
			Suite:      session.Suite,
		},
	})
}

// IsPeerAuthenticated reports whether a peer currently has a live
// session.
func (n *Node) IsPeerAuthenticated(peer contracts.NodeId) bool {
	_, ok := n.sessions[peer]
	return ok
}

func leaseKey(l planner.HeldLease) string { return l.Subject + "\x00" + l.Purpose }

// recordLeaseDeltas compares a peer's previous and new held-lease sets
// and emits acquire/renew/release trace events for each (subject,
// purpose) pair that changed.
func (n *Node) recordLeaseDeltas(peer contracts.NodeId, previous, next []planner.HeldLease, nowMs int64) {
	prevSet := make(map[string]bool, len(previous))
	for _, l := range previous {
		prevSet[leaseKey(l)] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, l := range next {
		nextSet[leaseKey(l)] = true
	}

	for _, l := range next {
		key := leaseKey(l)
		delta := "acquire"
		if prevSet[key] {
			delta = "renew"
		}
		n.Trace.Record(trace.Event{
			TimestampMs: nowMs,
			Kind:        trace.KindLease,
			Lease:       &trace.LeaseEvent{Peer: string(peer), Subject: l.Subject, Purpose: l.Purpose, Delta: delta},
		})
	}
	for _, l := range previous {
		if !nextSet[leaseKey(l)] {
			n.Trace.Record(trace.Event{
				TimestampMs: nowMs,
				Kind:        trace.KindLease,
				Lease:       &trace.LeaseEvent{Peer: string(peer), Subject: l.Subject, Purpose: l.Purpose, Delta: "release"},
			})
		}
	}
}

// UpdatePeerState records a peer's latest profile, local symbol set, and
// held leases, emitting lease-delta trace events for any change.
func (n *Node) UpdatePeerState(peer contracts.NodeId, profile planner.NodeProfile, localSymbols map[contracts.ObjectId]bool, leases []planner.HeldLease, nowMs int64) {
	var previous []planner.HeldLease
	if existing, ok := n.peers[peer]; ok {
		previous = existing.HeldLeases
	}
	n.recordLeaseDeltas(peer, previous, leases, nowMs)

	n.peers[peer] = &PeerState{
		Profile:      profile,
		LocalSymbols: localSymbols,
		HeldLeases:   leases,
		LastSeenMs:   nowMs,
	}
}

// RegisterPeerSigningKey registers a peer's Ed25519 public key, used for
// unauthenticated symbol-request signature verification and holder-proof
// checks.
func (n *Node) RegisterPeerSigningKey(peer contracts.NodeId, key []byte) {
	n.peerKeys[peer] = key
}

// Lookup implements capability.HolderKeyLookup over the registered peer
// signing keys.
func (n *Node) Lookup(node contracts.NodeId) ([]byte, bool) {
	key, ok := n.peerKeys[node]
	return key, ok
}

// HandleSymbolRequest delegates to the symbol-repair engine and emits an
// admission trace event recording the admit/reject outcome.
func (n *Node) HandleSymbolRequest(peer contracts.NodeId, req repair.Request, isAuthenticated bool, nowMs int64) (repair.Response, error) {
	resp, err := n.Repair.HandleRequest(peer, req, isAuthenticated, nowMs)

	outcome := "admit"
	reason := ""
	if err != nil {
		outcome = "reject"
		reason = err.Error()
	}
	n.Trace.Record(trace.Event{
		TimestampMs: nowMs,
		Kind:        trace.KindAdmission,
		Admission: &trace.AdmissionEvent{
			Peer:       string(peer),
			Zone:       string(req.ZoneID),
			Outcome:    outcome,
			ReasonCode: reason,
		},
	})
	return resp, err
}

// PlanExecution builds a planner input from currently tracked peer state
// and scores candidates against ctx.
func (n *Node) PlanExecution(ctx planner.Context, singletonHolder *contracts.NodeId, nowMs int64) []planner.Candidate {
	nodes := make([]planner.CandidateNode, 0, len(n.peers)+1)
	nodes = append(nodes, planner.CandidateNode{
		Profile:      n.local.Profile,
		LocalSymbols: n.local.LocalSymbols,
		HeldLeases:   n.local.HeldLeases,
	})
	for _, p := range n.peers {
		nodes = append(nodes, planner.CandidateNode{
			Profile:      p.Profile,
			LocalSymbols: p.LocalSymbols,
			HeldLeases:   p.HeldLeases,
		})
	}
	return planner.Plan(planner.Input{Nodes: nodes, NowMs: nowMs, SingletonHolder: singletonHolder}, ctx)
}

// UpdateLocalState sets this node's own profile, local symbols, and held
// leases, used as the local candidate in PlanExecution.
func (n *Node) UpdateLocalState(profile planner.NodeProfile, localSymbols map[contracts.ObjectId]bool, leases []planner.HeldLease) {
	n.local = PeerState{Profile: profile, LocalSymbols: localSymbols, HeldLeases: leases}
}

// TransportPath is one candidate path to reach a peer for a given
// object/symbol.
type TransportPath struct {
	Peer      contracts.NodeId
	Transport contracts.Transport
	Label     string
}

// TransportPolicy allows a transport per the zone's policy.
type TransportPolicy interface {
	Allows(t contracts.Transport) bool
}

// SelectTransportPaths deterministically chooses up to fanout eligible
// paths (allowed by policy) for one object/symbol, in input order, and
// emits a routing trace event per candidate.
func (n *Node) SelectTransportPaths(policy TransportPolicy, paths []TransportPath, objectID contracts.ObjectId, symbolIndex uint32, fanout int, nowMs int64) []TransportPath {
	selected := make([]TransportPath, 0, fanout)
	for _, p := range paths {
		eligible := policy == nil || policy.Allows(p.Transport)
		outcome := "dropped: no_eligible_path"
		if eligible && len(selected) < fanout {
			selected = append(selected, p)
			outcome = "routed"
		}
		n.Trace.Record(trace.Event{
			TimestampMs: nowMs,
			Kind:        trace.KindRouting,
			Routing: &trace.RoutingEvent{
				ObjectID:    objectID.String(),
				SymbolIndex: symbolIndex,
				Outcome:     outcome,
				Path:        p.Label,
			},
		})
	}
	return selected
}

// EnforceInvokeRequest sequences idempotency-key validation, capability
// verification (which itself performs holder-proof and revocation
// checks), and returns the verified claims or a typed error.
func (n *Node) EnforceInvokeRequest(req InvokeRequest, requiredCapability contracts.CapabilityId, resourceURIs []string, now time.Time) (*capability.Claims, error) {
	if err := validateIdempotencyKey(req.ID); err != nil {
		return nil, err
	}

	reqCtx := capability.RequestContext{RequestID: req.ID, Operation: req.Operation}
	return n.Verifier.Verify(req.CapabilityToken, requiredCapability, req.Operation, resourceURIs, req.HolderProof, reqCtx, now)
}

// ProcessDecodeStatus forwards a peer's decode-progress report to the
// symbol-repair engine.
func (n *Node) ProcessDecodeStatus(status repair.DecodeStatus) {
	n.Repair.ProcessDecodeStatus(status)
}

// ProcessSymbolAck forwards a peer's completion ack to the symbol-repair
// engine.
func (n *Node) ProcessSymbolAck(ack repair.SymbolAck) {
	n.Repair.ProcessSymbolAck(ack)
}

// PruneStaleState prunes the symbol-repair engine's per-peer-per-object
// transfer trackers.
func (n *Node) PruneStaleState(nowMs int64) {
	n.Repair.PruneStale(nowMs)
}

// EncodeControlPlane splits a degraded-mode envelope into frames using
// this node's reboot-safe sender instance id.
func (n *Node) EncodeControlPlane(envelope *degraded.Envelope, epochID uint64) []degraded.Frame {
	return degraded.Encode(envelope, n.senderInstanceID, epochID)
}

// DecodeControlPlane feeds one frame to this node's degraded-mode
// decoder.
func (n *Node) DecodeControlPlane(frame degraded.Frame, expectedZone contracts.ZoneId, retention degraded.RetentionClass) (*degraded.Envelope, error) {
	return n.Decoder.Decode(frame, expectedZone, retention)
}
