package coordinator

import (
	"testing"

	"github.com/n0remac/rtcore/engine"
	"github.com/n0remac/rtcore/packetizer"
	"github.com/n0remac/rtcore/wire"
)

func newTestCoordinator() (*Coordinator, *engine.RunFlag) {
	run := engine.NewRunFlag()
	cfg := Config{
		Depacketizers: map[uint8]DepacketizerEntry{
			96: {Codec: "video", Depacketizer: packetizer.NewH264Depacketizer()},
		},
		Codecs: map[string]CodecBinding{
			"video": {SSRC: 77, PayloadType: 96, Packetizer: packetizer.NewH264Packetizer(1200)},
		},
	}
	return New(run, cfg, nil), run
}

func TestOnIncomingDatagramRoutesByPayloadType(t *testing.T) {
	c, _ := newTestCoordinator()
	c.OnIncomingDatagram(1, 96, 0, 1000, true, []byte{0x65, 1, 2, 3})

	select {
	case chunk := <-c.Chunks:
		if chunk.Codec != "video" {
			t.Fatalf("expected codec tag 'video', got %q", chunk.Codec)
		}
		if !chunk.Unit.Keyframe {
			t.Fatal("expected keyframe flag set")
		}
	default:
		t.Fatal("expected a chunk to be emitted")
	}
}

func TestOnIncomingDatagramUnknownPTDropped(t *testing.T) {
	c, _ := newTestCoordinator()
	c.OnIncomingDatagram(1, 111, 0, 1000, true, []byte{1})
	if c.Stats().UnknownPT != 1 {
		t.Fatalf("expected unknown PT counter 1, got %d", c.Stats().UnknownPT)
	}
}

func TestOnEncodedUnitDroppedWhenNotRunning(t *testing.T) {
	c, run := newTestCoordinator()
	run.Set(false)
	c.OnEncodedUnit(wire.AccessUnit{Codec: "video", Data: []byte{0x65, 1}})
	select {
	case dg := <-c.Outbound:
		t.Fatalf("expected no outbound datagram while not running, got %+v", dg)
	default:
	}
	if c.Stats().RunFlagDrops != 1 {
		t.Fatalf("expected run-flag drop counter 1, got %d", c.Stats().RunFlagDrops)
	}
}

func TestOnEncodedUnitProducesOutboundDatagramNeverCarryingSSRCInAccessUnit(t *testing.T) {
	c, run := newTestCoordinator()
	run.Set(true)
	c.OnEncodedUnit(wire.AccessUnit{Codec: "video", Timestamp: 9000, Data: []byte{0x65, 1, 2}})

	select {
	case dg := <-c.Outbound:
		if dg.SSRC != 77 || dg.PT != 96 {
			t.Fatalf("unexpected datagram: %+v", dg)
		}
	default:
		t.Fatal("expected an outbound datagram")
	}
}

func TestOnEncodedUnitMissingPacketizer(t *testing.T) {
	c, run := newTestCoordinator()
	run.Set(true)
	c.OnEncodedUnit(wire.AccessUnit{Codec: "unknown-codec", Data: []byte{1}})
	if c.Stats().MissingPacketizer != 1 {
		t.Fatalf("expected missing-packetizer counter 1, got %d", c.Stats().MissingPacketizer)
	}
}
