package transport

import (
	"net"
	"testing"
	"time"
)

// pipeSocket adapts net.Conn (from net.Pipe) to the Socket interface;
// net.Pipe's Conn already satisfies it, this just documents the cast.
type pipeSocket struct{ net.Conn }

func TestEndpointRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	send := New(pipeSocket{a}, NullCipher{}, Config{}, nil)
	recv := New(pipeSocket{b}, NullCipher{}, Config{}, nil)
	defer send.Close()
	defer recv.Close()

	if err := send.Send(42, 96, 3000, true, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case ev := <-recv.Events:
		pkt, ok := ev.(PacketEvent)
		if !ok {
			t.Fatalf("expected PacketEvent, got %T", ev)
		}
		if pkt.SSRC != 42 || pkt.PayloadType != 96 || string(pkt.Payload) != "hello" || !pkt.Marker {
			t.Fatalf("unexpected packet: %+v", pkt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for packet event")
	}
}

// TestEndpointDeliversSeveralPacketsInOrder exercises the sender's
// sequence allocation and the receiver's reorder buffer together; actual
// out-of-order arrival is covered directly against inboundStream in
// reorder_test.go, since net.Pipe delivers synchronously in send order.
func TestEndpointDeliversSeveralPacketsInOrder(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	send := New(pipeSocket{a}, NullCipher{}, Config{}, nil)
	recv := New(pipeSocket{b}, NullCipher{}, Config{MaxHold: 100 * time.Millisecond}, nil)
	defer send.Close()
	defer recv.Close()

	for i := 0; i < 4; i++ {
		if err := send.Send(7, 96, uint32(i)*3000, false, []byte{byte(i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	var got []byte
	timeout := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case ev := <-recv.Events:
			if pkt, ok := ev.(PacketEvent); ok {
				got = append(got, pkt.Payload[0])
			}
		case <-timeout:
			t.Fatalf("timed out, received so far: %v", got)
		}
	}

	for i, v := range got {
		if int(v) != i {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}
