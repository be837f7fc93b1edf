package packetizer

import "github.com/n0remac/rtcore/wire"

// Packetizer turns one access unit into an ordered list of datagram
// payloads, each within the configured MTU budget.
type Packetizer interface {
	Packetize(unit wire.AccessUnit) []Fragment
}

// Depacketizer reassembles arrived, already-reordered datagram payloads
// into access units. Push must be called with strictly increasing
// sequence numbers (gaps are fine and trigger resync; duplicates and
// reordering are the Transport Endpoint's job, not this one's).
type Depacketizer interface {
	Push(seq uint16, timestamp uint32, marker bool, payload []byte) (wire.AccessUnit, bool)
}
