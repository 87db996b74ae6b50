package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywheel-mesh/meshcore/pkg/admission"
	"github.com/flywheel-mesh/meshcore/pkg/canonicalize"
	"github.com/flywheel-mesh/meshcore/pkg/capability"
	"github.com/flywheel-mesh/meshcore/pkg/contracts"
	"github.com/flywheel-mesh/meshcore/pkg/crypto"
	"github.com/flywheel-mesh/meshcore/pkg/degraded"
	"github.com/flywheel-mesh/meshcore/pkg/gossip"
	"github.com/flywheel-mesh/meshcore/pkg/planner"
	"github.com/flywheel-mesh/meshcore/pkg/repair"
	"github.com/flywheel-mesh/meshcore/pkg/trace"
)

func testObjectID(b byte) contracts.ObjectId {
	var id contracts.ObjectId
	id[0] = b
	return id
}

type fakeMetaStore struct{ metas map[contracts.ObjectId]repair.ObjectMeta }

func (f *fakeMetaStore) Lookup(id contracts.ObjectId) (repair.ObjectMeta, bool) {
	m, ok := f.metas[id]
	return m, ok
}

type fakeAvailable struct{ esis map[contracts.ObjectId][]uint32 }

func (f *fakeAvailable) AvailableESIs(id contracts.ObjectId) []uint32 { return f.esis[id] }

func newTestNode(t *testing.T) (*Node, *crypto.SigningKey) {
	t.Helper()
	issuer, err := crypto.GenerateSigningKey()
	require.NoError(t, err)

	ring := crypto.NewKeyRing()
	ring.Add("issuer-1", issuer.PublicKey())
	verifier := capability.NewVerifier(ring, nil, nil)

	adm := admission.NewController(admission.Policy{}, nil, nil)

	id := testObjectID(1)
	meta := &fakeMetaStore{metas: map[contracts.ObjectId]repair.ObjectMeta{id: {ZoneID: "z:work", SymbolSize: 10}}}
	avail := &fakeAvailable{esis: map[contracts.ObjectId][]uint32{id: {1, 2, 3}}}
	repairEngine := repair.NewEngine(meta, avail, nil, nil, adm, repair.Policy{MaxPerRequest: 10, MaxHintBytes: 100})

	node := NewNode("node-a", adm, repairEngine, verifier, "inst-1", trace.NewCapture(100))
	return node, issuer
}

func TestRegisterSession_MarksAuthenticated(t *testing.T) {
	node, _ := newTestNode(t)
	node.RegisterSession(Session{Peer: "peer-1", SessionID: "s1", Suite: "suite-a"}, "z:work", 1000)

	assert.True(t, node.IsPeerAuthenticated("peer-1"))
	events := node.Trace.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, trace.KindSession, events[0].Kind)
	assert.Equal(t, "established", events[0].Session.Transition)
}

func TestRemoveSession_MarksUnauthenticated(t *testing.T) {
	node, _ := newTestNode(t)
	node.RegisterSession(Session{Peer: "peer-1", SessionID: "s1"}, "z:work", 1000)
	node.RemoveSession("peer-1", "z:work", 2000)

	assert.False(t, node.IsPeerAuthenticated("peer-1"))
	events := node.Trace.Snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "closed", events[1].Session.Transition)
}

func TestUpdatePeerState_RecordsLeaseAcquireRenewRelease(t *testing.T) {
	node, _ := newTestNode(t)

	node.UpdatePeerState("peer-1", planner.NodeProfile{NodeID: "peer-1"}, nil,
		[]planner.HeldLease{{Subject: "res-a", Purpose: "write"}}, 1000)
	node.UpdatePeerState("peer-1", planner.NodeProfile{NodeID: "peer-1"}, nil,
		[]planner.HeldLease{{Subject: "res-a", Purpose: "write"}, {Subject: "res-b", Purpose: "write"}}, 2000)
	node.UpdatePeerState("peer-1", planner.NodeProfile{NodeID: "peer-1"}, nil,
		[]planner.HeldLease{{Subject: "res-b", Purpose: "write"}}, 3000)

	events := node.Trace.Snapshot()
	var deltas []string
	for _, e := range events {
		if e.Kind == trace.KindLease {
			deltas = append(deltas, e.Lease.Delta)
		}
	}
	assert.Contains(t, deltas, "acquire")
	assert.Contains(t, deltas, "renew")
	assert.Contains(t, deltas, "release")
}

func TestAnnounceObject_EmitsGossipTraceAndUpdatesTracker(t *testing.T) {
	node, _ := newTestNode(t)
	id := testObjectID(5)

	modified := node.AnnounceObject("z:work", id, gossip.ClassAccepted, 1, 1000)
	assert.True(t, modified)

	class, epoch, ok := node.Gossip["z:work"].ObjectState(id)
	require.True(t, ok)
	assert.Equal(t, gossip.ClassAccepted, class)
	assert.Equal(t, int64(1), epoch)

	events := node.Trace.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, trace.KindGossip, events[0].Kind)
}

func TestHandleSymbolRequest_AdmitEmitsTraceEvent(t *testing.T) {
	node, _ := newTestNode(t)
	id := testObjectID(1)

	resp, err := node.HandleSymbolRequest("peer-1", repair.Request{ObjectID: id, ZoneID: "z:work", MaxResponseSymbols: 2}, true, 1000)
	require.NoError(t, err)
	assert.Len(t, resp.SymbolESIs, 2)

	events := node.Trace.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "admit", events[0].Admission.Outcome)
}

func TestHandleSymbolRequest_RejectEmitsTraceEventWithReason(t *testing.T) {
	node, _ := newTestNode(t)
	id := testObjectID(1)

	_, err := node.HandleSymbolRequest("peer-1", repair.Request{ObjectID: id, ZoneID: "z:other", MaxResponseSymbols: 2}, true, 1000)
	require.Error(t, err)

	events := node.Trace.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "reject", events[0].Admission.Outcome)
	assert.NotEmpty(t, events[0].Admission.ReasonCode)
}

func TestEnforceInvokeRequest_Success(t *testing.T) {
	node, issuer := newTestNode(t)
	now := time.Now()

	claims := capability.Claims{
		Jti:        contracts.FromUnscopedBytes([]byte("jti-1")),
		Capability: "cap.read",
		Operations: []string{"read"},
		Resources:  []string{"res://bucket/*"},
		ExpiresAt:  now.Add(time.Hour),
	}
	signable, err := canonicalize.EncodeFields(claims.CanonicalFields())
	require.NoError(t, err)
	token := &capability.Token{Claims: claims, IssuerKID: "issuer-1", Signature: issuer.Sign(signable)}

	req := InvokeRequest{ID: "req-1", Operation: "read", CapabilityToken: token}
	got, err := node.EnforceInvokeRequest(req, "cap.read", []string{"res://bucket/object1"}, now)
	require.NoError(t, err)
	assert.Equal(t, claims.Capability, got.Capability)
}

func TestEnforceInvokeRequest_EmptyIdempotencyKeyRejected(t *testing.T) {
	node, _ := newTestNode(t)
	req := InvokeRequest{ID: "", Operation: "read"}

	_, err := node.EnforceInvokeRequest(req, "cap.read", nil, time.Now())
	require.ErrorIs(t, err, ErrInvalidIdempotencyKey)
}

func TestSelectTransportPaths_RespectsFanoutAndPolicy(t *testing.T) {
	node, _ := newTestNode(t)
	paths := []TransportPath{
		{Peer: "a", Transport: contracts.TransportDerp, Label: "a-derp"},
		{Peer: "b", Transport: contracts.TransportLan, Label: "b-lan"},
		{Peer: "c", Transport: contracts.TransportLan, Label: "c-lan"},
	}
	policy := lanOnlyPolicy{}

	selected := node.SelectTransportPaths(policy, paths, testObjectID(1), 0, 1, 1000)
	require.Len(t, selected, 1)
	assert.Equal(t, "b-lan", selected[0].Label)

	events := node.Trace.Snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "dropped: no_eligible_path", events[0].Routing.Outcome)
	assert.Equal(t, "routed", events[1].Routing.Outcome)
	assert.Equal(t, "dropped: no_eligible_path", events[2].Routing.Outcome)
}

type lanOnlyPolicy struct{}

func (lanOnlyPolicy) Allows(t contracts.Transport) bool { return t == contracts.TransportLan }

func TestPlanExecution_IncludesLocalAndPeers(t *testing.T) {
	node, _ := newTestNode(t)
	node.UpdateLocalState(planner.NodeProfile{NodeID: "node-a"}, nil, nil)
	node.UpdatePeerState("peer-1", planner.NodeProfile{NodeID: "peer-1"}, nil, nil, 1000)

	candidates := node.PlanExecution(planner.Context{}, nil, 1000)
	assert.Len(t, candidates, 2)
}

func TestNewSessionIDAndRequestID_AreDistinctAndNonEmpty(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)

	reqA, reqB := NewRequestID(), NewRequestID()
	assert.NotEmpty(t, reqA)
	assert.NotEqual(t, reqA, reqB)
}

func TestEncodeDecodeControlPlane_RoundTrips(t *testing.T) {
	node, _ := newTestNode(t)
	envelope := &degraded.Envelope{ZoneID: "z:work", Retention: degraded.RetentionShortTerm, Payload: []byte("command")}
	frames := node.EncodeControlPlane(envelope, 1)

	var got *degraded.Envelope
	var err error
	for _, f := range frames {
		got, err = node.DecodeControlPlane(f, "z:work", degraded.RetentionShortTerm)
	}
	require.NoError(t, err)
	assert.Equal(t, []byte("command"), got.Payload)
}
