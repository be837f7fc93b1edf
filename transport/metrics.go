package transport

import "time"

// OutboundMetrics is a point-in-time snapshot of what the remote peer
// has told us about one of our outbound SSRCs.
type OutboundMetrics struct {
	SSRC           uint32
	FractionLost   uint8 // numerator over 256
	CumulativeLost uint32
	HighestSeq     uint32
	Jitter         uint32
	RTT            time.Duration
	HaveRTT        bool
}

// computeRTT implements the RTCP round-trip formula:
// now_in_1/65536s − last_sender_report_timestamp − delay_since_last_sr.
// ntpNow and lastSR are both the middle 32 bits of an NTP timestamp (the
// wire representation used by sender/receiver reports); dlsr is in units
// of 1/65536s.
func computeRTT(ntpNow, lastSR, dlsr uint32) time.Duration {
	diff := int64(ntpNow) - int64(lastSR) - int64(dlsr)
	return time.Duration(diff) * time.Second / (1 << 16)
}

// toNTPMiddle converts a wall-clock time to the middle 32 bits of its
// NTP timestamp representation (seconds since the NTP epoch in the high
// 16 bits, fractional seconds in the low 16), the form report blocks
// carry on the wire.
func toNTPMiddle(t time.Time) uint32 {
	const ntpEpochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	full := secs<<32 | frac
	return uint32(full >> 16)
}
