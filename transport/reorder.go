package transport

import "time"

// PacketEvent is what the receiver worker emits per released datagram,
// in post-reorder order. It carries codec-agnostic routing fields only;
// the Coordinator is the first component allowed to interpret PayloadType.
type PacketEvent struct {
	SSRC        uint32
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	Marker      bool
	Payload     []byte
}

type slot struct {
	filled bool
	pkt    PacketEvent
}

// inboundStream is the reorder buffer and reception-quality ledger for
// one SSRC. The window is a power-of-two so `seq mod window` is a
// cheap mask.
//
// The deadline that gates "no stall" release is kept per base position,
// not per slot: a slot only gets a deadline once it is the oldest
// outstanding sequence number, and that deadline resets to `now +
// maxHold` the instant the base advances past it. A datagram that never
// arrives is declared lost exactly maxHold after it became the thing
// everyone was waiting on.
type inboundStream struct {
	ssrc    uint32
	window  uint16 // power of two
	maxHold time.Duration

	slots []slot

	haveBase     bool
	base         uint16 // next sequence expected to be released
	baseDeadline time.Time
	highest      uint16
	cycles       uint32 // count of sequence-number wraps observed in highest

	received uint64
	expected uint64
	lost     uint64

	// sinceReport and lostSinceReport cover only the interval since the
	// last receiver report was built; reportSnapshot resets them.
	sinceReport     uint64
	lostSinceReport uint64

	clockRate        uint32
	jitter           float64
	haveLastArrival  bool
	lastArrivalClock int64 // wall-clock time scaled to RTP clock units
	lastRTPTimestamp uint32

	lastSRTimestamp uint32
	lastSRArrival   time.Time
	haveLastSR      bool
}

func newInboundStream(ssrc uint32, window uint16, maxHold time.Duration, clockRate uint32) *inboundStream {
	return &inboundStream{
		ssrc:      ssrc,
		window:    window,
		maxHold:   maxHold,
		slots:     make([]slot, window),
		clockRate: clockRate,
	}
}

func (s *inboundStream) mask(seq uint16) uint16 { return seq & (s.window - 1) }

// insert places an arriving datagram into its slot. It returns false if
// the datagram could not be placed: a duplicate, or so far behind the
// release point that its slot has already been reused.
func (s *inboundStream) insert(pkt PacketEvent, now time.Time) bool {
	if !s.haveBase {
		s.haveBase = true
		s.base = pkt.Sequence
		s.baseDeadline = now.Add(s.maxHold)
		s.highest = pkt.Sequence
	}

	rel := int32(int16(pkt.Sequence - s.base))
	if rel < 0 || rel >= int32(s.window) {
		return false
	}

	idx := s.mask(pkt.Sequence)
	if s.slots[idx].filled {
		return false // duplicate already buffered
	}

	s.slots[idx] = slot{filled: true, pkt: pkt}
	if int32(int16(pkt.Sequence-s.highest)) > 0 {
		if pkt.Sequence < s.highest {
			s.cycles++
		}
		s.highest = pkt.Sequence
	}
	return true
}

// extendedHighest is the 32-bit highest sequence number RFC 3550
// report blocks carry: cycle count in the high 16 bits, the 16-bit
// wire sequence number in the low 16.
func (s *inboundStream) extendedHighest() uint32 {
	return s.cycles<<16 | uint32(s.highest)
}

// release emits, in ascending sequence order, every slot at the front of
// the window whose datagram has arrived, plus any gap whose deadline has
// elapsed. A deadline-elapsed gap leaves no event for that sequence
// number but still counts against lost/expected.
func (s *inboundStream) release(now time.Time) []PacketEvent {
	if !s.haveBase {
		return nil
	}

	var out []PacketEvent
	for {
		idx := s.mask(s.base)
		if s.slots[idx].filled {
			out = append(out, s.slots[idx].pkt)
			s.received++
			s.expected++
			s.sinceReport++
			s.updateJitter(s.slots[idx].pkt, now)
			s.slots[idx] = slot{}
			s.base++
			s.baseDeadline = now.Add(s.maxHold)
			continue
		}

		if !now.Before(s.baseDeadline) {
			s.lost++
			s.expected++
			s.sinceReport++
			s.lostSinceReport++
			s.base++
			s.baseDeadline = now.Add(s.maxHold)
			continue
		}

		return out
	}
}

// nextDeadline is the time the receiver loop must next wake to force a
// release pass even if no further datagram arrives.
func (s *inboundStream) nextDeadline() (time.Time, bool) {
	if !s.haveBase {
		return time.Time{}, false
	}
	return s.baseDeadline, true
}

func (s *inboundStream) updateJitter(pkt PacketEvent, arrival time.Time) {
	if s.clockRate == 0 {
		return
	}
	arrivalClock := arrival.UnixNano() * int64(s.clockRate) / int64(time.Second)
	if s.haveLastArrival {
		d := float64((arrivalClock - s.lastArrivalClock) - int64(pkt.Timestamp-s.lastRTPTimestamp))
		if d < 0 {
			d = -d
		}
		s.jitter += (d - s.jitter) / 16
	}
	s.haveLastArrival = true
	s.lastArrivalClock = arrivalClock
	s.lastRTPTimestamp = pkt.Timestamp
}

func (s *inboundStream) noteSenderReport(ntpMiddle uint32, arrival time.Time) {
	s.lastSRTimestamp = ntpMiddle
	s.lastSRArrival = arrival
	s.haveLastSR = true
}

// reportBlock is the content of one outgoing receiver-report block for
// this stream, plus the fields needed to fill RFC 3550's LSR/DLSR.
type reportBlock struct {
	ssrc           uint32
	fractionLost   uint8
	cumulativeLost uint32
	highestSeq     uint32 // extended: cycle count in the high 16 bits
	jitter         uint32
	lastSR         uint32
	delaySinceLSR  uint32
}

// buildReportBlock produces the block this stream contributes to the next
// receiver report and resets the since-last-report counters.
func (s *inboundStream) buildReportBlock(now time.Time) reportBlock {
	var fraction uint8
	if s.sinceReport > 0 {
		fraction = uint8((s.lostSinceReport * 256) / s.sinceReport)
	}
	b := reportBlock{
		ssrc:           s.ssrc,
		fractionLost:   fraction,
		cumulativeLost: uint32(s.lost),
		highestSeq:     s.extendedHighest(),
		jitter:         uint32(s.jitter),
	}
	if s.haveLastSR {
		b.lastSR = s.lastSRTimestamp
		b.delaySinceLSR = uint32(now.Sub(s.lastSRArrival).Seconds() * 65536)
	}
	s.sinceReport = 0
	s.lostSinceReport = 0
	return b
}

// outboundStream tracks per-SSRC send state plus the most recent
// reception-quality report the remote peer sent back about it.
type outboundStream struct {
	ssrc        uint32
	payloadType uint8
	nextSeq     uint16

	fractionLost   uint8
	cumulativeLost uint32
	highestSeq     uint32
	remoteJitter   uint32
	haveRTT        bool
	rtt            time.Duration
}

func newOutboundStream(ssrc uint32, pt uint8) *outboundStream {
	return &outboundStream{ssrc: ssrc, payloadType: pt}
}

func (s *outboundStream) allocateSeq() uint16 {
	seq := s.nextSeq
	s.nextSeq++
	return seq
}
