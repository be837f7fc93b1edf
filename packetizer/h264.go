// Package packetizer implements the (De)Packetizer Workers: converting
// codec access units to wire-sized datagram payloads and back, for the
// "video" codec family using H264-style FU-A fragmentation. The NAL
// type and FU-A header handling here generalizes the same parsing a
// keyframe sniffer needs into standalone packetize/depacketize workers.
package packetizer

import (
	"errors"

	"github.com/n0remac/rtcore/wire"
)

// NAL unit type values relevant to FU-A fragmentation and keyframe
// detection, per the H.264 RBSP NAL header's low 5 bits.
const (
	nalTypeIDR  = 5
	nalTypeSTAP = 24
	nalTypeFUA  = 28

	fuStartBit = 0x80
	fuEndBit   = 0x40
	nalTypeMask = 0x1F
)

// DefaultMaxPayload is the per-datagram payload budget (bytes), chosen
// to stay clear of typical path MTU after IP/UDP/RTP/encryption
// overhead.
const DefaultMaxPayload = 1200

// ErrUnknownCodec names the failure of finding no packetizer or
// depacketizer for a codec name. No function in this module returns
// it; the Coordinator counts a missing packetizer in its Stats instead.
var ErrUnknownCodec = errors.New("packetizer: unknown codec")

// Fragment is one datagram payload produced by a Packetizer, along with
// the transport marker bit the caller must set on the outbound packet.
type Fragment struct {
	Payload []byte
	Marker  bool
}

// H264Packetizer fragments video access units into FU-A payloads.
type H264Packetizer struct {
	MaxPayload int
}

func NewH264Packetizer(maxPayload int) *H264Packetizer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &H264Packetizer{MaxPayload: maxPayload}
}

// Packetize splits one access unit's NAL unit into FU-A fragments, or
// returns it as a single datagram if it already fits the budget.
func (p *H264Packetizer) Packetize(unit wire.AccessUnit) []Fragment {
	nal := unit.Data
	if len(nal) == 0 {
		return nil
	}
	if len(nal) <= p.MaxPayload {
		return []Fragment{{Payload: append([]byte(nil), nal...), Marker: true}}
	}

	header := nal[0]
	nalType := header & nalTypeMask
	nri := header & 0x60
	body := nal[1:]

	chunkSize := p.MaxPayload - 2 // FU indicator + FU header
	if chunkSize <= 0 {
		chunkSize = 1
	}

	var frags []Fragment
	for offset := 0; offset < len(body); offset += chunkSize {
		end := offset + chunkSize
		if end > len(body) {
			end = len(body)
		}
		isFirst := offset == 0
		isLast := end == len(body)

		fuIndicator := nri | nalTypeFUA
		fuHeader := nalType
		if isFirst {
			fuHeader |= fuStartBit
		}
		if isLast {
			fuHeader |= fuEndBit
		}

		payload := make([]byte, 0, 2+(end-offset))
		payload = append(payload, fuIndicator, fuHeader)
		payload = append(payload, body[offset:end]...)
		frags = append(frags, Fragment{Payload: payload, Marker: isLast})
	}
	return frags
}

// fuaAssembly tracks an in-progress reassembly of one fragmented NAL.
type fuaAssembly struct {
	timestamp uint32
	nalHeader byte
	body      []byte
	active    bool
}

// H264Depacketizer reassembles FU-A fragments (and passes through
// already-whole NAL units) into access units, discarding an
// in-progress unit the instant a sequence gap is observed.
type H264Depacketizer struct {
	asm         fuaAssembly
	haveLastSeq bool
	lastSeq     uint16

	// Loss is incremented every time a sequence discontinuity forces the
	// in-progress unit to be discarded.
	Loss uint64
}

func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Push feeds one arrived, already-reordered datagram payload in. It
// returns a completed access unit when the fragment it just received
// finishes one, or ok=false if the unit is still assembling.
func (d *H264Depacketizer) Push(seq uint16, timestamp uint32, marker bool, payload []byte) (wire.AccessUnit, bool) {
	if d.haveLastSeq && seq != d.lastSeq+1 {
		d.discard()
	}
	d.haveLastSeq = true
	d.lastSeq = seq

	if len(payload) == 0 {
		return wire.AccessUnit{}, false
	}

	nalType := payload[0] & nalTypeMask
	if nalType != nalTypeFUA {
		// Whole NAL unit in one datagram (including STAP-A aggregates,
		// passed through undecoded — the Media Agent's decoder handles
		// aggregate NALs itself).
		d.asm = fuaAssembly{}
		return wire.AccessUnit{
			Codec:     "video",
			Timestamp: timestamp,
			Keyframe:  nalType == nalTypeIDR,
			Data:      append([]byte(nil), payload...),
		}, true
	}

	if len(payload) < 2 {
		d.discard()
		return wire.AccessUnit{}, false
	}
	fuHeader := payload[1]
	start := fuHeader&fuStartBit != 0
	end := fuHeader&fuEndBit != 0
	origType := fuHeader & nalTypeMask

	if start {
		d.asm = fuaAssembly{
			timestamp: timestamp,
			nalHeader: (payload[0] &^ nalTypeMask) | origType,
			active:    true,
		}
	}
	if !d.asm.active {
		// A continuation or end fragment with no matching start: the
		// unit was already discarded by a gap, or we joined mid-stream.
		return wire.AccessUnit{}, false
	}
	if d.asm.timestamp != timestamp {
		d.discard()
		return wire.AccessUnit{}, false
	}

	d.asm.body = append(d.asm.body, payload[2:]...)
	if !end {
		return wire.AccessUnit{}, false
	}

	data := make([]byte, 0, 1+len(d.asm.body))
	data = append(data, d.asm.nalHeader)
	data = append(data, d.asm.body...)
	keyframe := origType == nalTypeIDR
	ts := d.asm.timestamp
	d.asm = fuaAssembly{}

	return wire.AccessUnit{Codec: "video", Timestamp: ts, Keyframe: keyframe, Data: data}, true
}

func (d *H264Depacketizer) discard() {
	if d.asm.active {
		d.Loss++
	}
	d.asm = fuaAssembly{}
}
