package transport

import (
	"testing"
	"time"
)

func mkEvent(seq uint16) PacketEvent {
	return PacketEvent{SSRC: 1, PayloadType: 96, Sequence: seq, Timestamp: uint32(seq) * 3000}
}

// TestReorderWithinWindow covers the scenario where [0,2,1,3,5,4] arrive
// out of order but all within max_hold: every packet must eventually be
// released in ascending sequence order with zero loss.
func TestReorderWithinWindow(t *testing.T) {
	s := newInboundStream(1, 64, 40*time.Millisecond, 90000)
	now := time.Now()

	order := []uint16{0, 2, 1, 3, 5, 4}
	var released []PacketEvent
	for _, seq := range order {
		if !s.insert(mkEvent(seq), now) {
			t.Fatalf("insert(%d) rejected", seq)
		}
		released = append(released, s.release(now)...)
	}

	if s.lost != 0 {
		t.Fatalf("expected no loss, got %d", s.lost)
	}
	if len(released) != 6 {
		t.Fatalf("expected all 6 packets released, got %d: %+v", len(released), released)
	}
	for i, pkt := range released {
		if pkt.Sequence != uint16(i) {
			t.Fatalf("released[%d] = seq %d, want %d", i, pkt.Sequence, i)
		}
	}
}

// TestReorderDeadlineDeclaresLoss covers the scenario where seq 2 never
// arrives: once max_hold elapses past the point where seq 2 became the
// base, it must be declared lost and seq 3 released behind it.
func TestReorderDeadlineDeclaresLoss(t *testing.T) {
	maxHold := 40 * time.Millisecond
	s := newInboundStream(1, 64, maxHold, 90000)
	t0 := time.Now()

	s.insert(mkEvent(0), t0)
	if got := s.release(t0); len(got) != 1 || got[0].Sequence != 0 {
		t.Fatalf("expected seq 0 released immediately, got %+v", got)
	}
	// base is now 1, deadline t0+maxHold.

	s.insert(mkEvent(1), t0.Add(2*time.Millisecond))
	if got := s.release(t0.Add(2 * time.Millisecond)); len(got) != 1 || got[0].Sequence != 1 {
		t.Fatalf("expected seq 1 released, got %+v", got)
	}
	// base is now 2, deadline (t0+2ms)+maxHold. seq 2 never arrives.

	s.insert(mkEvent(3), t0.Add(5*time.Millisecond))

	// Before the deadline elapses, release must hold seq 3 back.
	mid := t0.Add(2*time.Millisecond + maxHold/2)
	if got := s.release(mid); len(got) != 0 {
		t.Fatalf("expected nothing released before deadline, got %+v", got)
	}
	if s.lost != 0 {
		t.Fatalf("expected no loss declared yet, got %d", s.lost)
	}

	// Once the deadline for base==2 has elapsed, seq 2 is declared lost
	// and seq 3 is released behind it.
	past := t0.Add(2*time.Millisecond + maxHold + time.Millisecond)
	got := s.release(past)
	if len(got) != 1 || got[0].Sequence != 3 {
		t.Fatalf("expected seq 3 released after loss, got %+v", got)
	}
	if s.lost != 1 {
		t.Fatalf("expected lost counter 1, got %d", s.lost)
	}
	if s.received != 3 {
		t.Fatalf("expected 3 received (0,1,3), got %d", s.received)
	}
}

func TestInsertRejectsDuplicateAndStale(t *testing.T) {
	s := newInboundStream(1, 64, 40*time.Millisecond, 90000)
	now := time.Now()

	if !s.insert(mkEvent(10), now) {
		t.Fatal("first insert should succeed")
	}
	if s.insert(mkEvent(10), now) {
		t.Fatal("duplicate insert should be rejected")
	}
	// Far outside the window relative to base.
	if s.insert(mkEvent(10+64), now) {
		t.Fatal("insert beyond window should be rejected")
	}
}

func TestBuildReportBlockResetsSinceReportCounters(t *testing.T) {
	s := newInboundStream(7, 64, 40*time.Millisecond, 90000)
	now := time.Now()
	s.insert(mkEvent(0), now)
	s.release(now)
	s.insert(mkEvent(1), now)
	s.release(now)

	b := s.buildReportBlock(now)
	if b.ssrc != 7 {
		t.Fatalf("expected ssrc 7, got %d", b.ssrc)
	}
	if s.sinceReport != 0 || s.lostSinceReport != 0 {
		t.Fatalf("expected since-report counters reset, got sinceReport=%d lostSinceReport=%d", s.sinceReport, s.lostSinceReport)
	}
}

// TestExtendedHighestTracksSequenceWrap covers the receiver-report
// extended highest sequence number: once the wire sequence number
// wraps from 0xFFFF to 0x0000, the cycle count in the high 16 bits
// must advance so the extended value keeps increasing.
func TestExtendedHighestTracksSequenceWrap(t *testing.T) {
	s := newInboundStream(1, 64, 40*time.Millisecond, 90000)
	now := time.Now()

	s.insert(mkEvent(0xfffe), now)
	s.release(now)
	if got := s.extendedHighest(); got != 0xfffe {
		t.Fatalf("expected extended highest 0xfffe before wrap, got %#x", got)
	}

	s.insert(mkEvent(0xffff), now)
	s.release(now)
	if got := s.extendedHighest(); got != 0xffff {
		t.Fatalf("expected extended highest 0xffff before wrap, got %#x", got)
	}

	s.insert(mkEvent(0x0001), now)
	s.release(now)
	want := uint32(1)<<16 | 0x0001
	if got := s.extendedHighest(); got != want {
		t.Fatalf("expected extended highest %#x after one wrap, got %#x", want, got)
	}
}

func TestComputeRTT(t *testing.T) {
	now := time.Now()
	lsr := toNTPMiddle(now.Add(-2 * time.Second))
	ntpNow := toNTPMiddle(now)
	rtt := computeRTT(ntpNow, lsr, 0)
	if rtt < 1800*time.Millisecond || rtt > 2200*time.Millisecond {
		t.Fatalf("expected rtt near 2s, got %v", rtt)
	}
}
