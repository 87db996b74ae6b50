// Package admission implements the per-(peer, zone) budget enforcement
// spec §4.8 describes: token-bucket-style windowed byte/symbol budgets,
// an auth-failure counter, a decode-concurrency cap, a decode-CPU budget,
// an amplification bound, and quarantine/reachability checks — the sole
// backpressure mechanism in the mesh coordination core.
package admission

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

// RequestClass distinguishes request categories admission reasons about
// separately (symbol fetch vs. control-plane command, etc.).
type RequestClass string

const (
	RequestClassSymbolFetch  RequestClass = "symbol_fetch"
	RequestClassControlPlane RequestClass = "control_plane"
)

// Cost describes what a single admission check is spending.
type Cost struct {
	Bytes         uint64
	Symbols       uint64
	DecodeCPUMs   uint64
	RequestBytes  uint64 // for amplification bound: response_bytes ≤ k × request_bytes
	ResponseBytes uint64
}

// Error is the stable reason-code error taxonomy spec §4.8/§7 defines.
type Error struct {
	code string
}

func (e *Error) Error() string { return "admission: " + e.code }

var (
	ErrByteBudgetExceeded        = &Error{"byte_budget_exceeded"}
	ErrSymbolBudgetExceeded      = &Error{"symbol_budget_exceeded"}
	ErrAuthFailureBudgetExceeded = &Error{"auth_failure_budget_exceeded"}
	ErrDecodeCapacityExceeded    = &Error{"decode_capacity_exceeded"}
	ErrDecodeCpuBudgetExceeded   = &Error{"decode_cpu_budget_exceeded"}
	ErrAmplificationViolation    = &Error{"amplification_violation"}
	ErrAuthenticationRequired    = &Error{"authentication_required"}
	ErrProofOfNeedRequired       = &Error{"proof_of_need_required"}
	ErrObjectQuarantined         = &Error{"object_quarantined"}
	ErrNotReachable              = &Error{"not_reachable"}
	ErrQuarantineQuotaExceeded   = &Error{"quarantine_quota_exceeded"}
)

// Policy configures the budgets a peer/zone pair is held to. Zero values
// disable the corresponding check.
type Policy struct {
	RequireAuthentication bool
	RequireProofOfNeed    bool

	MaxBytesPerWindow       uint64
	MaxSymbolsPerWindow     uint64
	MaxAuthFailures         uint64
	Window                  time.Duration
	MaxDecodeCPUMsPerWindow uint64

	MaxConcurrentDecodes int64

	AmplificationFactor   uint64 // response_bytes ≤ k × request_bytes
	MaxQuarantinedObjects uint64 // per-peer quarantine quota
}

// DefaultWindow is the budget period used when Policy.Window is unset.
const DefaultWindow = time.Minute

func (p Policy) window() time.Duration {
	if p.Window <= 0 {
		return DefaultWindow
	}
	return p.Window
}

// PeerKey identifies the (peer, zone) pair a counter set belongs to.
type PeerKey struct {
	Peer contracts.NodeId
	Zone contracts.ZoneId
}

type counters struct {
	mu sync.Mutex

	byteBucket   *rate.Limiter
	symbolBucket *rate.Limiter

	windowStart time.Time
	authFails   uint64
	decodeCPUMs uint64

	authenticated    bool
	quarantinedCount uint64
}

// QuarantineChecker answers whether an object is currently quarantined.
// The admission controller consults it but never owns quarantine state.
type QuarantineChecker interface {
	IsQuarantined(id contracts.ObjectId) bool
}

// ReachabilityChecker answers whether a peer is currently considered
// network-reachable (e.g. from recent gossip/session activity).
type ReachabilityChecker interface {
	IsReachable(peer contracts.NodeId) bool
}

// Controller enforces Policy budgets per (peer, zone). Byte and symbol
// budgets are token buckets (one per peer, refilling over Policy.Window)
// rather than hard reset-on-expiry counters, matching the "token-bucket-
// style windowed budgets" spec §4.8 calls for — a peer that briefly bursts
// under budget is not penalized for the rest of the window. Decode
// concurrency is a single semaphore shared across all peers, since the
// decode CPU pool is one scarce node-wide resource; Admit checks it with
// TryAcquire so the whole admission sequence stays non-blocking.
type Controller struct {
	policy      Policy
	quarantine  QuarantineChecker
	reachable   ReachabilityChecker
	decodeSlots *semaphore.Weighted
	decodeGate  bool // policy.MaxConcurrentDecodes > 0; zero disables the check

	mu    sync.Mutex
	peers map[PeerKey]*counters
}

// NewController builds a Controller. quarantine and reachable may be nil,
// in which case those checks are skipped (useful for tests and for nodes
// without a quarantine store wired up yet).
func NewController(policy Policy, quarantine QuarantineChecker, reachable ReachabilityChecker) *Controller {
	maxDecodes := policy.MaxConcurrentDecodes
	if maxDecodes <= 0 {
		maxDecodes = 1 // semaphore.NewWeighted(0) would make TryAcquire always fail
	}
	return &Controller{
		policy:      policy,
		quarantine:  quarantine,
		reachable:   reachable,
		decodeSlots: semaphore.NewWeighted(maxDecodes),
		decodeGate:  policy.MaxConcurrentDecodes > 0,
		peers:       make(map[PeerKey]*counters),
	}
}

func (c *Controller) counterFor(key PeerKey) *counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.peers[key]
	if !ok {
		ct = &counters{}
		if c.policy.MaxBytesPerWindow > 0 {
			ct.byteBucket = rate.NewLimiter(rate.Limit(float64(c.policy.MaxBytesPerWindow)/c.policy.window().Seconds()), int(c.policy.MaxBytesPerWindow))
		}
		if c.policy.MaxSymbolsPerWindow > 0 {
			ct.symbolBucket = rate.NewLimiter(rate.Limit(float64(c.policy.MaxSymbolsPerWindow)/c.policy.window().Seconds()), int(c.policy.MaxSymbolsPerWindow))
		}
		c.peers[key] = ct
	}
	return ct
}

// SetAuthenticated marks whether a peer is authenticated within a zone —
// set by the orchestrator on session register/remove, and on
// auth-failure-budget exhaustion (which deauthenticates the peer).
func (c *Controller) SetAuthenticated(key PeerKey, authenticated bool) {
	ct := c.counterFor(key)
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.authenticated = authenticated
}

// RecordAuthFailure increments the auth-failure counter for a peer,
// deauthenticating it once the budget is exhausted.
func (c *Controller) RecordAuthFailure(key PeerKey, now time.Time) {
	ct := c.counterFor(key)
	ct.mu.Lock()
	defer ct.mu.Unlock()
	c.resetAuxCountersIfExpiredLocked(ct, now)
	ct.authFails++
	if c.policy.MaxAuthFailures > 0 && ct.authFails > c.policy.MaxAuthFailures {
		ct.authenticated = false
	}
}

// resetAuxCountersIfExpiredLocked resets the counters the token-bucket
// limiters don't cover (auth failures, decode CPU) on a plain window
// boundary — these have no natural "refill" semantics.
func (c *Controller) resetAuxCountersIfExpiredLocked(ct *counters, now time.Time) {
	if ct.windowStart.IsZero() || now.Sub(ct.windowStart) >= c.policy.window() {
		ct.windowStart = now
		ct.authFails = 0
		ct.decodeCPUMs = 0
	}
}

// AcquireDecodeSlot takes a decode concurrency slot if one is free,
// returning ErrDecodeCapacityExceeded immediately otherwise — admission
// must not block, so this is a non-blocking TryAcquire rather than a wait.
// Call ReleaseDecodeSlot when decoding completes.
func (c *Controller) AcquireDecodeSlot() error {
	if !c.decodeSlots.TryAcquire(1) {
		return ErrDecodeCapacityExceeded
	}
	return nil
}

// ReleaseDecodeSlot returns a decode concurrency slot acquired via
// AcquireDecodeSlot.
func (c *Controller) ReleaseDecodeSlot() {
	c.decodeSlots.Release(1)
}

// Admit runs the admission sequence spec §4.8 defines, in order:
// authentication, proof-of-need, byte budget, symbol budget,
// auth-failure budget, decode concurrency cap, decode CPU budget,
// amplification bound, quarantine, reachability, quarantine quota. The
// decode concurrency cap is checked (not held) here via TryAcquire/
// Release, the same instantaneous-snapshot shape as every other counter
// in this sequence, so the whole call stays synchronous and non-blocking.
func (c *Controller) Admit(key PeerKey, class RequestClass, cost Cost, objectID *contracts.ObjectId, hasProofOfNeed bool, now time.Time) error {
	ct := c.counterFor(key)
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if c.policy.RequireAuthentication && !ct.authenticated {
		return ErrAuthenticationRequired
	}
	if c.policy.RequireProofOfNeed && !hasProofOfNeed {
		return ErrProofOfNeedRequired
	}

	c.resetAuxCountersIfExpiredLocked(ct, now)

	if ct.byteBucket != nil && cost.Bytes > 0 && !ct.byteBucket.AllowN(now, int(cost.Bytes)) {
		return ErrByteBudgetExceeded
	}
	if ct.symbolBucket != nil && cost.Symbols > 0 && !ct.symbolBucket.AllowN(now, int(cost.Symbols)) {
		return ErrSymbolBudgetExceeded
	}
	if c.policy.MaxAuthFailures > 0 && ct.authFails > c.policy.MaxAuthFailures {
		return ErrAuthFailureBudgetExceeded
	}
	if c.decodeGate && cost.DecodeCPUMs > 0 {
		if err := c.AcquireDecodeSlot(); err != nil {
			return err
		}
		c.ReleaseDecodeSlot()
	}
	if c.policy.MaxDecodeCPUMsPerWindow > 0 && ct.decodeCPUMs+cost.DecodeCPUMs > c.policy.MaxDecodeCPUMsPerWindow {
		return ErrDecodeCpuBudgetExceeded
	}
	if c.policy.AmplificationFactor > 0 && cost.RequestBytes > 0 && cost.ResponseBytes > c.policy.AmplificationFactor*cost.RequestBytes {
		return ErrAmplificationViolation
	}
	if c.quarantine != nil && objectID != nil && c.quarantine.IsQuarantined(*objectID) {
		return ErrObjectQuarantined
	}
	if c.reachable != nil && !c.reachable.IsReachable(key.Peer) {
		return ErrNotReachable
	}
	if c.policy.MaxQuarantinedObjects > 0 && ct.quarantinedCount >= c.policy.MaxQuarantinedObjects {
		return ErrQuarantineQuotaExceeded
	}

	ct.decodeCPUMs += cost.DecodeCPUMs
	return nil
}

// RecordQuarantine increments the per-peer quarantine count, used when
// the orchestration layer quarantines an object this peer offered.
func (c *Controller) RecordQuarantine(key PeerKey) {
	ct := c.counterFor(key)
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.quarantinedCount++
}
