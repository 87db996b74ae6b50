// Package repair implements the symbol-repair engine (spec §4.10): the
// bookkeeping side of serving object-symbol fetches over an erasure code.
// No Reed-Solomon/RaptorQ math lives here — see DESIGN.md — only which
// ESIs are available, which have already been sent to a peer, and
// deterministic lowest-ESI-first selection, mirroring the separation
// fcp-mesh's TargetedRepairEngine keeps from its raptorq crate.
package repair

import (
	"sort"
	"sync"
	"time"

	"github.com/flywheel-mesh/meshcore/pkg/admission"
	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

// ObjectMeta is the subset of an object's erasure-coding parameters the
// engine needs: which zone it belongs to, and the size of one symbol
// (used to compute admission cost).
type ObjectMeta struct {
	ZoneID     contracts.ZoneId
	SymbolSize uint64
}

// ObjectMetaStore resolves object metadata by id.
type ObjectMetaStore interface {
	Lookup(id contracts.ObjectId) (ObjectMeta, bool)
}

// AvailableSymbolsStore reports which ESIs are locally available for an
// object.
type AvailableSymbolsStore interface {
	AvailableESIs(id contracts.ObjectId) []uint32
}

// QuarantineChecker answers whether an object is quarantined.
type QuarantineChecker interface {
	IsQuarantined(id contracts.ObjectId) bool
}

// SignatureVerifier checks an unauthenticated peer's signature over a
// symbol request.
type SignatureVerifier interface {
	VerifyRequestSignature(peer contracts.NodeId, req *Request) bool
}

// Policy bounds a single request.
type Policy struct {
	MaxPerRequest      uint32
	MaxHintBytes       uint32
	TransferStateTTLMs int64
}

// Request is one peer's ask for symbols of an object.
type Request struct {
	ObjectID           contracts.ObjectId
	ZoneID             contracts.ZoneId
	ZoneKeyID          *string
	MissingHint        map[uint32]bool // set of ESIs the requester still needs; nil means unknown
	MissingHintBytes   uint32          // wire size of the hint, for the HintTooLarge bound
	MaxResponseSymbols uint32
}

// Response is what the engine sends back for one request.
type Response struct {
	ObjectID         contracts.ObjectId
	ZoneID           contracts.ZoneId
	ZoneKeyID        *string
	SymbolESIs       []uint32
	WasBounded       bool
	TotalAvailable   uint32
	AlreadySentCount uint32
}

// Error is the stable reason-code error taxonomy spec §4.10 defines.
type Error struct {
	code string
}

func (e *Error) Error() string { return "repair: " + e.code }

var (
	ErrAlreadyComplete  = &Error{"already_complete"}
	ErrInvalidRequest   = &Error{"invalid_request"}
	ErrObjectNotFound   = &Error{"object_not_found"}
	ErrSignatureInvalid = &Error{"signature_invalid"}
)

// BoundsExceededError reports a requested response size over the policy
// limit.
type BoundsExceededError struct {
	Requested  uint32
	MaxAllowed uint32
}

func (e *BoundsExceededError) Error() string { return "repair: bounds_exceeded" }

// HintTooLargeError reports a missing-hint payload over the policy limit.
type HintTooLargeError struct {
	Bytes    uint32
	MaxBytes uint32
}

func (e *HintTooLargeError) Error() string { return "repair: hint_too_large" }

// AdmissionRejectedError wraps an admission.Error encountered while
// serving a symbol request.
type AdmissionRejectedError struct {
	Cause error
}

func (e *AdmissionRejectedError) Error() string { return "repair: admission_rejected: " + e.Cause.Error() }
func (e *AdmissionRejectedError) Unwrap() error { return e.Cause }

// peerObjectState is the per-(peer, object) transfer tracker: which ESIs
// have been sent so far, and when it was last touched (for TTL pruning).
type peerObjectState struct {
	sentAtMs int64
	sentESIs map[uint32]bool
}

type peerObjectKey struct {
	peer   contracts.NodeId
	object contracts.ObjectId
}

// objectProgress is the per-object decode progress reported back via
// ProcessDecodeStatus/ProcessSymbolAck.
type objectProgress struct {
	receivedESIs map[uint32]bool
	decodeOK     bool
	complete     bool
}

// Engine serves symbol-repair requests and tracks per-peer-per-object
// transfer and decode state. Safe for concurrent use.
type Engine struct {
	meta       ObjectMetaStore
	available  AvailableSymbolsStore
	quarantine QuarantineChecker
	signatures SignatureVerifier
	admission  *admission.Controller
	policy     Policy

	mu       sync.Mutex
	sent     map[peerObjectKey]*peerObjectState
	progress map[contracts.ObjectId]*objectProgress
}

// NewEngine builds a symbol-repair Engine.
func NewEngine(meta ObjectMetaStore, available AvailableSymbolsStore, quarantine QuarantineChecker, signatures SignatureVerifier, adm *admission.Controller, policy Policy) *Engine {
	return &Engine{
		meta:       meta,
		available:  available,
		quarantine: quarantine,
		signatures: signatures,
		admission:  adm,
		policy:     policy,
		sent:       make(map[peerObjectKey]*peerObjectState),
		progress:   make(map[contracts.ObjectId]*objectProgress),
	}
}

func (e *Engine) isComplete(id contracts.ObjectId) bool {
	p, ok := e.progress[id]
	return ok && p.complete
}

// DecodeStatus is what a requester reports back about its own progress
// reconstructing an object.
type DecodeStatus struct {
	ObjectID     contracts.ObjectId
	ReceivedESIs []uint32
	DecodeOK     bool
}

// SymbolAck reports that a requester has fully reconstructed an object.
type SymbolAck struct {
	ObjectID contracts.ObjectId
}

// ProcessDecodeStatus updates the per-object progress (received-ESI
// bitset, decode success flag) the engine tracks on behalf of a
// requester.
func (e *Engine) ProcessDecodeStatus(status DecodeStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.progress[status.ObjectID]
	if !ok {
		p = &objectProgress{receivedESIs: make(map[uint32]bool)}
		e.progress[status.ObjectID] = p
	}
	for _, esi := range status.ReceivedESIs {
		p.receivedESIs[esi] = true
	}
	if status.DecodeOK {
		p.decodeOK = true
	}
}

// ProcessSymbolAck marks an object's repair as complete; subsequent
// HandleRequest calls for it are rejected with ErrAlreadyComplete.
func (e *Engine) ProcessSymbolAck(ack SymbolAck) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.progress[ack.ObjectID]
	if !ok {
		p = &objectProgress{receivedESIs: make(map[uint32]bool)}
		e.progress[ack.ObjectID] = p
	}
	p.complete = true
}

// HandleRequest runs the full sequence spec §4.10 describes, steps 1-8,
// for a single peer's symbol request.
func (e *Engine) HandleRequest(peer contracts.NodeId, req Request, isAuthenticated bool, nowMs int64) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isComplete(req.ObjectID) {
		return Response{}, ErrAlreadyComplete
	}
	if e.quarantine != nil && e.quarantine.IsQuarantined(req.ObjectID) {
		return Response{}, ErrAlreadyComplete
	}

	meta, ok := e.meta.Lookup(req.ObjectID)
	if !ok {
		return Response{}, ErrObjectNotFound
	}
	if meta.ZoneID != req.ZoneID {
		return Response{}, ErrInvalidRequest
	}

	if !isAuthenticated {
		if e.signatures == nil || !e.signatures.VerifyRequestSignature(peer, &req) {
			return Response{}, ErrSignatureInvalid
		}
	}

	cost := admission.Cost{Bytes: meta.SymbolSize * uint64(req.MaxResponseSymbols)}
	key := admission.PeerKey{Peer: peer, Zone: req.ZoneID}
	if e.admission != nil {
		if err := e.admission.Admit(key, admission.RequestClassSymbolFetch, cost, &req.ObjectID, true, time.UnixMilli(nowMs)); err != nil {
			return Response{}, &AdmissionRejectedError{Cause: err}
		}
	}

	if req.MaxResponseSymbols > e.policy.MaxPerRequest {
		return Response{}, &BoundsExceededError{Requested: req.MaxResponseSymbols, MaxAllowed: e.policy.MaxPerRequest}
	}
	if req.MissingHintBytes > e.policy.MaxHintBytes {
		return Response{}, &HintTooLargeError{Bytes: req.MissingHintBytes, MaxBytes: e.policy.MaxHintBytes}
	}

	available := e.available.AvailableESIs(req.ObjectID)

	pk := peerObjectKey{peer: peer, object: req.ObjectID}
	state, ok := e.sent[pk]
	if !ok {
		state = &peerObjectState{sentESIs: make(map[uint32]bool)}
		e.sent[pk] = state
	}
	alreadySentCount := uint32(len(state.sentESIs))

	candidates := make([]uint32, 0, len(available))
	for _, esi := range available {
		if state.sentESIs[esi] {
			continue
		}
		if req.MissingHint != nil && !req.MissingHint[esi] {
			continue
		}
		candidates = append(candidates, esi)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	wasBounded := uint32(len(candidates)) > req.MaxResponseSymbols
	if wasBounded {
		candidates = candidates[:req.MaxResponseSymbols]
	}

	state.sentAtMs = nowMs
	for _, esi := range candidates {
		state.sentESIs[esi] = true
	}

	zoneKeyID := req.ZoneKeyID
	return Response{
		ObjectID:         req.ObjectID,
		ZoneID:           meta.ZoneID,
		ZoneKeyID:        zoneKeyID,
		SymbolESIs:       candidates,
		WasBounded:       wasBounded,
		TotalAvailable:   uint32(len(available)),
		AlreadySentCount: alreadySentCount,
	}, nil
}

// PruneStale removes per-peer-per-object transfer trackers whose last
// activity is older than policy.TransferStateTTLMs.
func (e *Engine) PruneStale(nowMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.policy.TransferStateTTLMs <= 0 {
		return
	}
	for k, st := range e.sent {
		if nowMs-st.sentAtMs > e.policy.TransferStateTTLMs {
			delete(e.sent, k)
		}
	}
}
