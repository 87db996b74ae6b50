// Package trace implements the mesh node's optional trace capture: a
// bounded ring of structured events recorded as the orchestrator mutates
// session, gossip, lease, admission, and routing state, grounded on
// fcp-mesh's trace_capture module.
package trace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Kind discriminates the variant an Event carries.
type Kind string

const (
	KindAdmission Kind = "admission"
	KindGossip    Kind = "gossip"
	KindSession   Kind = "session"
	KindLease     Kind = "lease"
	KindRouting   Kind = "routing"
)

// AdmissionEvent records an admit/reject decision.
type AdmissionEvent struct {
	Peer       string
	Zone       string
	Outcome    string // "admit" or "reject"
	ReasonCode string // empty on admit
}

// GossipEvent records an object/symbol announcement's effect.
type GossipEvent struct {
	Zone     string
	ObjectID string
	Modified bool
}

// SessionEvent records a session lifecycle transition.
type SessionEvent struct {
	Peer           string
	SessionID      string
	Transition     string // "established" or "closed"
	Suite          string
	FailureReason  string
}

// LeaseEvent records a lease delta (acquire/renew/release) detected by
// comparing a peer's previous and new held-lease sets.
type LeaseEvent struct {
	Peer    string
	Subject string
	Purpose string
	Delta   string // "acquire", "renew", "release"
}

// RoutingEvent records a transport-path selection outcome.
type RoutingEvent struct {
	ObjectID    string
	SymbolIndex uint32
	Outcome     string // "routed" or "dropped: no_eligible_path"
	Path        string
}

// Event is a single captured trace entry.
type Event struct {
	TimestampMs int64
	Kind        Kind
	Admission   *AdmissionEvent
	Gossip      *GossipEvent
	Session     *SessionEvent
	Lease       *LeaseEvent
	Routing     *RoutingEvent
}

// Capture is a per-node, bounded trace buffer. A nil *Capture is valid
// and silently discards every Record call, so callers can wire it in
// optionally without nil-checking at every call site. Each recorded event
// is also mirrored as a zero-duration OTel span, so a node wired to a real
// exporter gets these events in its distributed trace without the ring
// buffer depending on any exporter being present.
type Capture struct {
	mu      sync.Mutex
	maxSize int
	events  []Event
	tracer  oteltrace.Tracer
}

// NewCapture creates a Capture retaining at most maxSize events (oldest
// dropped first). maxSize <= 0 means unbounded. The ring buffer always
// works standalone; NewCapture defaults to a no-op OTel tracer. Use
// NewCaptureWithTracer to mirror events into a real tracer provider.
func NewCapture(maxSize int) *Capture {
	return NewCaptureWithTracer(maxSize, noop.NewTracerProvider().Tracer("meshcore/trace"))
}

// NewCaptureWithTracer creates a Capture that mirrors every Record into a
// span started on tracer, in addition to the bounded ring buffer.
func NewCaptureWithTracer(maxSize int, tracer oteltrace.Tracer) *Capture {
	return &Capture{maxSize: maxSize, tracer: tracer}
}

// Record appends an event, dropping the oldest if over capacity, and
// emits it as a zero-duration OTel span.
func (c *Capture) Record(e Event) {
	if c == nil {
		return
	}
	c.emitSpan(e)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	if c.maxSize > 0 && len(c.events) > c.maxSize {
		c.events = c.events[len(c.events)-c.maxSize:]
	}
}

func (c *Capture) emitSpan(e Event) {
	if c.tracer == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.Int64("timestamp_ms", e.TimestampMs)}
	switch e.Kind {
	case KindAdmission:
		if e.Admission != nil {
			attrs = append(attrs,
				attribute.String("peer", e.Admission.Peer),
				attribute.String("zone", e.Admission.Zone),
				attribute.String("outcome", e.Admission.Outcome),
				attribute.String("reason_code", e.Admission.ReasonCode))
		}
	case KindGossip:
		if e.Gossip != nil {
			attrs = append(attrs,
				attribute.String("zone", e.Gossip.Zone),
				attribute.String("object_id", e.Gossip.ObjectID),
				attribute.Bool("modified", e.Gossip.Modified))
		}
	case KindSession:
		if e.Session != nil {
			attrs = append(attrs,
				attribute.String("peer", e.Session.Peer),
				attribute.String("session_id", e.Session.SessionID),
				attribute.String("transition", e.Session.Transition),
				attribute.String("suite", e.Session.Suite))
		}
	case KindLease:
		if e.Lease != nil {
			attrs = append(attrs,
				attribute.String("peer", e.Lease.Peer),
				attribute.String("subject", e.Lease.Subject),
				attribute.String("purpose", e.Lease.Purpose),
				attribute.String("delta", e.Lease.Delta))
		}
	case KindRouting:
		if e.Routing != nil {
			attrs = append(attrs,
				attribute.String("object_id", e.Routing.ObjectID),
				attribute.Int64("symbol_index", int64(e.Routing.SymbolIndex)),
				attribute.String("outcome", e.Routing.Outcome),
				attribute.String("path", e.Routing.Path))
		}
	}

	_, span := c.tracer.Start(context.Background(), string(e.Kind), oteltrace.WithAttributes(attrs...))
	span.End()
}

// Snapshot returns a copy of the currently captured events.
func (c *Capture) Snapshot() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// RedactedSnapshot returns a copy of the captured events with peer/session
// identifiers replaced by a stable short token: correlating which events
// belong to the same peer across an exported trace stays possible without
// the export revealing raw node/session identity, for trace bundles handed
// to someone who shouldn't see peer topology.
func (c *Capture) RedactedSnapshot() []Event {
	events := c.Snapshot()
	for i := range events {
		events[i] = redact(events[i])
	}
	return events
}

func redact(e Event) Event {
	switch e.Kind {
	case KindAdmission:
		if e.Admission != nil {
			r := *e.Admission
			r.Peer = redactToken(r.Peer)
			e.Admission = &r
		}
	case KindSession:
		if e.Session != nil {
			r := *e.Session
			r.Peer = redactToken(r.Peer)
			r.SessionID = redactToken(r.SessionID)
			e.Session = &r
		}
	case KindLease:
		if e.Lease != nil {
			r := *e.Lease
			r.Peer = redactToken(r.Peer)
			e.Lease = &r
		}
	}
	return e
}

func redactToken(raw string) string {
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return "r:" + hex.EncodeToString(sum[:6])
}
