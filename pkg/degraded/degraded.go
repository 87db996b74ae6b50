// Package degraded implements the degraded-mode control-plane codec
// (spec §4.11): small, structured commands split into fixed-size frames
// for transport over lossy or bandwidth-constrained degraded-mode
// channels, reassembled by a reboot-safe (sender_instance_id, epoch_id)
// key. No erasure-coding math lives here (see DESIGN.md — no FEC library
// is present in the retrieval pack); corruption detection per frame is a
// stdlib CRC32, and "recovery" is waiting for every chunk index to
// arrive rather than reconstructing from a partial set.
package degraded

import (
	"encoding/binary"
	"hash/crc32"
	"sync"

	"github.com/flywheel-mesh/meshcore/pkg/contracts"
)

// RetentionClass tags how long an envelope's content should be retained
// by the channel once delivered.
type RetentionClass int

const (
	RetentionEphemeral RetentionClass = iota
	RetentionShortTerm
	RetentionLongTerm
)

// FrameMTU is the maximum payload size of one frame's chunk, sized to fit
// comfortably under typical degraded-mode channel MTUs (e.g. SMS, LoRa).
const FrameMTU = 256

// Envelope is a control-plane command to carry over a degraded channel.
type Envelope struct {
	ZoneID    contracts.ZoneId
	Retention RetentionClass
	Payload   []byte
}

// serialize produces the self-describing byte form split across frames:
// a length-prefixed zone id, a retention byte, then the raw payload. This
// is the degraded channel's own wire format, distinct from the canonical
// hash-and-sign encoding used elsewhere — here we need to walk the bytes
// back apart after reassembly, not just hash them.
func (e *Envelope) serialize() []byte {
	zoneBytes := []byte(e.ZoneID)
	buf := make([]byte, 0, 4+len(zoneBytes)+1+len(e.Payload))

	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(zoneBytes)))
	buf = append(buf, lenField[:]...)
	buf = append(buf, zoneBytes...)
	buf = append(buf, byte(e.Retention))
	buf = append(buf, e.Payload...)
	return buf
}

func deserializeEnvelope(raw []byte) (*Envelope, error) {
	if len(raw) < 5 {
		return nil, ErrDecodeFailed
	}
	zoneLen := binary.BigEndian.Uint32(raw[:4])
	rest := raw[4:]
	if uint32(len(rest)) < zoneLen+1 {
		return nil, ErrDecodeFailed
	}
	zoneID := contracts.ZoneId(rest[:zoneLen])
	retention := RetentionClass(rest[zoneLen])
	payload := rest[zoneLen+1:]
	return &Envelope{ZoneID: zoneID, Retention: retention, Payload: payload}, nil
}

// Frame is one fixed-size chunk of a serialized Envelope.
type Frame struct {
	SenderInstanceID string
	EpochID          uint64
	ZoneID           contracts.ZoneId
	Retention        RetentionClass
	ESI              uint32
	TotalFrames      uint32
	Payload          []byte
	CRC32            uint32
}

// Error is the stable reason-code error taxonomy spec §4.11 defines.
type Error struct {
	code string
}

func (e *Error) Error() string { return "degraded: " + e.code }

var (
	ErrZoneMismatch        = &Error{"zone_mismatch"}
	ErrRetentionMismatch   = &Error{"retention_mismatch"}
	ErrInsufficientSymbols = &Error{"insufficient_symbols"} // transient; caller continues buffering
	ErrDecodeFailed        = &Error{"decode_failed"}
)

// Encode serializes envelope and splits it into a sequence of frames
// sized to FrameMTU, each annotated with the sender/instance identifier
// and epoch for reboot-safe reassembly.
func Encode(envelope *Envelope, senderInstanceID string, epochID uint64) []Frame {
	encoded := envelope.serialize()

	total := (len(encoded) + FrameMTU - 1) / FrameMTU
	if total == 0 {
		total = 1
	}
	frames := make([]Frame, 0, total)
	for i := 0; i < total; i++ {
		start := i * FrameMTU
		end := start + FrameMTU
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk := encoded[start:end]
		frames = append(frames, Frame{
			SenderInstanceID: senderInstanceID,
			EpochID:          epochID,
			ZoneID:           envelope.ZoneID,
			Retention:        envelope.Retention,
			ESI:              uint32(i),
			TotalFrames:      uint32(total),
			Payload:          chunk,
			CRC32:            crc32.ChecksumIEEE(chunk),
		})
	}
	return frames
}

type bufferKey struct {
	senderInstanceID string
	epochID          uint64
}

// Decoder buffers frames across calls, keyed by (sender_instance_id,
// epoch_id), until every chunk index has arrived. Safe for concurrent
// use.
type Decoder struct {
	mu      sync.Mutex
	buffers map[bufferKey]map[uint32][]byte
	totals  map[bufferKey]uint32
	zones   map[bufferKey]contracts.ZoneId
	retain  map[bufferKey]RetentionClass
}

// NewDecoder creates an empty frame reassembly buffer.
func NewDecoder() *Decoder {
	return &Decoder{
		buffers: make(map[bufferKey]map[uint32][]byte),
		totals:  make(map[bufferKey]uint32),
		zones:   make(map[bufferKey]contracts.ZoneId),
		retain:  make(map[bufferKey]RetentionClass),
	}
}

// Decode ingests one frame. It returns ErrInsufficientSymbols (transient
// — the caller should keep buffering and call Decode again with the next
// frame) until every chunk index for the frame's (sender, epoch) key has
// arrived, at which point it validates and returns the reconstructed
// Envelope.
func (d *Decoder) Decode(frame Frame, expectedZone contracts.ZoneId, expectedRetention RetentionClass) (*Envelope, error) {
	if crc32.ChecksumIEEE(frame.Payload) != frame.CRC32 {
		return nil, ErrDecodeFailed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := bufferKey{senderInstanceID: frame.SenderInstanceID, epochID: frame.EpochID}
	chunks, ok := d.buffers[key]
	if !ok {
		chunks = make(map[uint32][]byte)
		d.buffers[key] = chunks
		d.totals[key] = frame.TotalFrames
		d.zones[key] = frame.ZoneID
		d.retain[key] = frame.Retention
	}
	chunks[frame.ESI] = frame.Payload

	if uint32(len(chunks)) < d.totals[key] {
		return nil, ErrInsufficientSymbols
	}

	total := d.totals[key]
	assembled := make([]byte, 0)
	for i := uint32(0); i < total; i++ {
		chunk, present := chunks[i]
		if !present {
			return nil, ErrInsufficientSymbols
		}
		assembled = append(assembled, chunk...)
	}

	zoneID := d.zones[key]
	retention := d.retain[key]
	delete(d.buffers, key)
	delete(d.totals, key)
	delete(d.zones, key)
	delete(d.retain, key)

	if zoneID != expectedZone {
		return nil, ErrZoneMismatch
	}
	if retention != expectedRetention {
		return nil, ErrRetentionMismatch
	}

	return deserializeEnvelope(assembled)
}
