// Package wire defines the data types shared across every stage of the
// media pipeline: the wire-adjacent datagram fields, the codec-level
// access unit and chunk types, and the process-wide connection state.
package wire

import "fmt"

// ConnState is the single process-wide connection state for a session.
type ConnState int32

const (
	Idle ConnState = iota
	Negotiating
	IceNominated
	Running
	Closing
)

func (s ConnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case IceNominated:
		return "ice-nominated"
	case Running:
		return "running"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("conn-state(%d)", int32(s))
	}
}

// AccessUnit is a codec-level payload boundary: one picture's worth of
// compressed bytes for video, or one logical frame for a generic codec.
type AccessUnit struct {
	Codec     string
	Timestamp uint32
	Keyframe  bool
	Data      []byte
}

// Chunk is the output of a depacketizer: one reassembled access unit
// tagged with the codec it belongs to. Payload types never appear here;
// that is the boundary the Coordinator enforces.
type Chunk struct {
	Codec string
	Unit  AccessUnit
}

// DecodedFrame is a decoder's output: a presentation-timestamped set of
// raw pixel planes, owned by the decoder worker until handed to the
// render sink.
type DecodedFrame struct {
	Width, Height int
	Planes        [][]byte
	PTS           uint32
}

// CapturedFrame is what a capture source hands to the Media Agent: a raw
// frame tagged with the wall-clock time it was captured.
type CapturedFrame struct {
	Width, Height int
	Data          []byte
	CapturedAt    int64 // unix nanoseconds; a plain field, not time.Time, so it stays trivially comparable in tests
	Keyframe      bool
}
