package packetizer

import "github.com/n0remac/rtcore/wire"

// Generic fragmentation header: one byte, bit0 start, bit1 end. Used
// for codecs with no NAL-style structure of their own — notably the
// Passthrough codec stand-in, whose access units are already
// wire-ready bytes with nothing resembling a NAL header to carry
// fragment metadata in-band.
const (
	genStartBit = 0x01
	genEndBit   = 0x02
)

// GenericPacketizer fragments an access unit's raw bytes on MTU
// boundaries with no assumption about the codec's internal structure.
type GenericPacketizer struct {
	MaxPayload int
}

func NewGenericPacketizer(maxPayload int) *GenericPacketizer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &GenericPacketizer{MaxPayload: maxPayload}
}

func (p *GenericPacketizer) Packetize(unit wire.AccessUnit) []Fragment {
	data := unit.Data
	chunkSize := p.MaxPayload - 1
	if chunkSize <= 0 {
		chunkSize = 1
	}
	if len(data) == 0 {
		return []Fragment{{Payload: []byte{genStartBit | genEndBit}, Marker: true}}
	}

	var frags []Fragment
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		flags := byte(0)
		if offset == 0 {
			flags |= genStartBit
		}
		isLast := end == len(data)
		if isLast {
			flags |= genEndBit
		}
		payload := make([]byte, 0, 1+(end-offset))
		payload = append(payload, flags)
		payload = append(payload, data[offset:end]...)
		frags = append(frags, Fragment{Payload: payload, Marker: isLast})
	}
	return frags
}

// GenericDepacketizer reassembles GenericPacketizer output, with the
// same immediate-flush-on-gap resync rule as H264Depacketizer.
type GenericDepacketizer struct {
	codec string

	timestamp   uint32
	body        []byte
	active      bool
	haveLastSeq bool
	lastSeq     uint16

	Loss uint64
}

func NewGenericDepacketizer(codec string) *GenericDepacketizer {
	return &GenericDepacketizer{codec: codec}
}

func (d *GenericDepacketizer) Push(seq uint16, timestamp uint32, marker bool, payload []byte) (wire.AccessUnit, bool) {
	if d.haveLastSeq && seq != d.lastSeq+1 {
		d.discard()
	}
	d.haveLastSeq = true
	d.lastSeq = seq

	if len(payload) == 0 {
		return wire.AccessUnit{}, false
	}
	flags := payload[0]
	start := flags&genStartBit != 0
	end := flags&genEndBit != 0

	if start {
		d.body = nil
		d.timestamp = timestamp
		d.active = true
	}
	if !d.active {
		return wire.AccessUnit{}, false
	}
	if d.timestamp != timestamp {
		d.discard()
		return wire.AccessUnit{}, false
	}

	d.body = append(d.body, payload[1:]...)
	if !end {
		return wire.AccessUnit{}, false
	}

	unit := wire.AccessUnit{Codec: d.codec, Timestamp: d.timestamp, Data: append([]byte(nil), d.body...)}
	d.active = false
	d.body = nil
	return unit, true
}

func (d *GenericDepacketizer) discard() {
	if d.active {
		d.Loss++
	}
	d.active = false
	d.body = nil
}
