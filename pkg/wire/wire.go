// Package wire implements the inter-node wire envelope and aggregator
// contract (spec §6): versioned JSON framing with a size cap, and
// per-sender monotonic sequence dedup.
package wire

import (
	"encoding/json"
	"fmt"
	"sync"
)

// CurrentVersion is the only envelope version this node accepts.
const CurrentVersion uint32 = 1

// MaxMessageBytes is the maximum encoded envelope size; oversized
// payloads are rejected before any further processing.
const MaxMessageBytes = 1 << 20 // 1 MiB

// Known payload type tags for the covered ingest surface.
const (
	PayloadPaneMeta  = "pane_meta"
	PayloadPaneDelta = "pane_delta"
	PayloadGap       = "gap"
	PayloadDetection = "detection"
	PayloadPanesMeta = "panes_meta"
)

// Payload is the tagged union carried by an envelope: a "type" discriminant
// plus whatever fields that type defines. Kept as raw JSON so the wire
// layer never needs to know every payload shape a caller might define.
type Payload struct {
	Type   string
	Fields json.RawMessage
}

// MarshalJSON flattens Type and Fields into a single JSON object, so the
// wire form is `{"type": "...", ...fields}` rather than a nested object.
func (p Payload) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(p.Fields) > 0 {
		if err := json.Unmarshal(p.Fields, &fields); err != nil {
			return nil, fmt.Errorf("wire: payload fields must be a JSON object: %w", err)
		}
	}
	typeJSON, err := json.Marshal(p.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeJSON
	return json.Marshal(fields)
}

// UnmarshalJSON splits the flattened object back into Type and Fields.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	typeField, ok := raw["type"]
	if !ok {
		return fmt.Errorf("wire: payload missing \"type\" field")
	}
	if err := json.Unmarshal(typeField, &p.Type); err != nil {
		return err
	}
	delete(raw, "type")
	fields, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	p.Fields = fields
	return nil
}

// Envelope is the wire-level message every inter-node exchange is framed
// as.
type Envelope struct {
	Version   uint32  `json:"version"`
	Seq       uint64  `json:"seq"`
	Sender    string  `json:"sender"`
	SentAtMs  int64   `json:"sent_at_ms"`
	Payload   Payload `json:"payload"`
}

// Error is the stable reason-code error taxonomy for the wire layer.
type Error struct {
	code string
}

func (e *Error) Error() string { return "wire: " + e.code }

var (
	ErrVersionMismatch = &Error{"version_mismatch"}
	ErrMessageTooLarge = &Error{"message_too_large"}
)

// Encode marshals env to JSON, rejecting oversized output before
// returning it.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxMessageBytes {
		return nil, ErrMessageTooLarge
	}
	return data, nil
}

// Decode parses raw bytes into an Envelope, rejecting oversized input and
// version mismatches before returning.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxMessageBytes {
		return nil, ErrMessageTooLarge
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Version != CurrentVersion {
		return nil, ErrVersionMismatch
	}
	return &env, nil
}

// DuplicateError reports a sequence number at or below a sender's
// last-accepted sequence.
type DuplicateError struct {
	Sender string
	Seq    uint64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("wire: duplicate seq %d from sender %q", e.Seq, e.Sender)
}

// Stats summarizes the aggregator's view of one sender.
type Stats struct {
	LastSeq  uint64
	Accepted uint64
	Rejected uint64
}

// Aggregator tracks, per sender, the highest sequence number accepted so
// far and rejects anything at or below it as a duplicate. A soft
// max-agents bound triggers a warning callback rather than rejecting new
// senders outright. Safe for concurrent use.
type Aggregator struct {
	maxAgents int
	onWarn    func(senderCount int)

	mu      sync.Mutex
	senders map[string]*Stats
}

// NewAggregator creates an Aggregator. maxAgents <= 0 disables the soft
// bound. onWarn may be nil.
func NewAggregator(maxAgents int, onWarn func(senderCount int)) *Aggregator {
	return &Aggregator{
		maxAgents: maxAgents,
		onWarn:    onWarn,
		senders:   make(map[string]*Stats),
	}
}

// Accept ingests one envelope's sequence number for its sender. Returns
// DuplicateError if seq is not strictly greater than the sender's
// last_seq; the sender is still tracked in that case (count and
// last_seq are not advanced for a duplicate).
func (a *Aggregator) Accept(sender string, seq uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, ok := a.senders[sender]
	if !ok {
		stats = &Stats{}
		a.senders[sender] = stats
		if a.maxAgents > 0 && len(a.senders) > a.maxAgents && a.onWarn != nil {
			a.onWarn(len(a.senders))
		}
	}

	if seq <= stats.LastSeq {
		stats.Rejected++
		return &DuplicateError{Sender: sender, Seq: seq}
	}

	stats.LastSeq = seq
	stats.Accepted++
	return nil
}

// Stats returns a copy of one sender's tracked stats.
func (a *Aggregator) Stats(sender string) (Stats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.senders[sender]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// Overview summarizes the aggregator as a whole: how many distinct
// senders it has ever seen, and whether that count currently exceeds the
// soft max-agents bound (the condition that triggers onWarn).
type Overview struct {
	SenderCount       int
	ExceededMaxAgents bool
}

// Overview returns the aggregator's current sender-count summary.
func (a *Aggregator) Overview() Overview {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Overview{
		SenderCount:       len(a.senders),
		ExceededMaxAgents: a.maxAgents > 0 && len(a.senders) > a.maxAgents,
	}
}
