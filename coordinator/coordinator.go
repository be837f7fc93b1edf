// Package coordinator implements the Media Transport Coordinator: the
// payload-type/codec boundary between the Transport Endpoint and the
// Media Agent. Payload types never cross the Media Agent-facing side of
// this package (Chunks, OnEncodedUnit) in either direction.
package coordinator

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/n0remac/rtcore/engine"
	"github.com/n0remac/rtcore/internal/chanutil"
	"github.com/n0remac/rtcore/packetizer"
	"github.com/n0remac/rtcore/wire"
)

// CodecBinding maps a codec identifier to the packetizer that produces
// its wire payloads, the payload type and outbound SSRC its datagrams
// should carry. The Media Agent never sees either value; the
// Coordinator is where a codec identifier turns into wire identity.
type CodecBinding struct {
	SSRC        uint32
	PayloadType uint8
	Packetizer  packetizer.Packetizer
}

// Stats exposes the Coordinator's drop/error counters.
type Stats struct {
	UnknownPT         uint64
	MissingPacketizer uint64
	RunFlagDrops      uint64
}

// Coordinator bridges transport.PacketEvent-shaped input to depacketized
// Chunks for the Media Agent, and encoded access units to packetized
// datagrams for the Transport Endpoint.
type Coordinator struct {
	log *log.Logger

	run *engine.RunFlag

	mu        sync.Mutex
	byPT      map[uint8]packetizer.Depacketizer
	byPTCodec map[uint8]string
	byCodec   map[string]CodecBinding

	unknownPT         atomic.Uint64
	missingPacketizer atomic.Uint64
	runFlagDrops      atomic.Uint64

	// Chunks is the outbound-to-Media-Agent channel: one reassembled
	// access unit per successfully depacketized unit.
	Chunks chan wire.Chunk

	// Outbound is the outbound-to-Transport-Endpoint channel: one wire
	// payload per packetizer fragment, tagged with the ssrc/pt/marker
	// the Transport Endpoint needs to build the datagram.
	Outbound chan OutboundDatagram

	chunkDrops    atomic.Uint64
	outboundDrops atomic.Uint64
}

// OutboundDatagram is what the Coordinator hands to the Transport
// Endpoint's sender: everything needed to build one wire packet, with
// no trace of the codec identifier that produced it.
type OutboundDatagram struct {
	SSRC      uint32
	PT        uint8
	Marker    bool
	Timestamp uint32
	Payload   []byte
}

// Config wires the negotiated payload-type table and codec bindings at
// session start, built from the negotiated descriptor.
type Config struct {
	// Depacketizers maps payload type to the depacketizer it feeds.
	Depacketizers map[uint8]DepacketizerEntry
	// Codecs maps codec identifier to its outbound binding.
	Codecs map[string]CodecBinding

	ChunkQueueLen    int
	OutboundQueueLen int
}

// DepacketizerEntry names the codec a payload type's reassembled chunks
// should be tagged with, alongside the depacketizer instance itself.
type DepacketizerEntry struct {
	Codec        string
	Depacketizer packetizer.Depacketizer
}

func New(run *engine.RunFlag, cfg Config, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ChunkQueueLen == 0 {
		cfg.ChunkQueueLen = 64
	}
	if cfg.OutboundQueueLen == 0 {
		cfg.OutboundQueueLen = 64
	}

	byPT := make(map[uint8]packetizer.Depacketizer, len(cfg.Depacketizers))
	byPTCodec := make(map[uint8]string, len(cfg.Depacketizers))
	for pt, entry := range cfg.Depacketizers {
		byPT[pt] = entry.Depacketizer
		byPTCodec[pt] = entry.Codec
	}
	byCodec := make(map[string]CodecBinding, len(cfg.Codecs))
	for codec, binding := range cfg.Codecs {
		byCodec[codec] = binding
	}

	return &Coordinator{
		log:       logger,
		run:       run,
		byPT:      byPT,
		byPTCodec: byPTCodec,
		byCodec:   byCodec,
		Chunks:    make(chan wire.Chunk, cfg.ChunkQueueLen),
		Outbound:  make(chan OutboundDatagram, cfg.OutboundQueueLen),
	}
}

// OnIncomingDatagram handles one post-reorder datagram from the
// Transport Endpoint. Inbound packets are always processed regardless
// of the Run Flag — decoding during warm-up is acceptable.
func (c *Coordinator) OnIncomingDatagram(ssrc uint32, pt uint8, seq uint16, ts uint32, marker bool, payload []byte) {
	c.mu.Lock()
	dep, ok := c.byPT[pt]
	codec := c.byPTCodec[pt]
	c.mu.Unlock()

	if !ok {
		c.unknownPT.Add(1)
		c.log.Printf("[coordinator] unknown payload type %d on ssrc %d, dropping", pt, ssrc)
		return
	}

	unit, done := dep.Push(seq, ts, marker, payload)
	if !done {
		return
	}
	chunk := wire.Chunk{Codec: codec, Unit: unit}
	chanutil.SendDropOldest(c.Chunks, chunk, &c.chunkDrops)
}

// OnEncodedUnit handles one access unit produced by the Media Agent's
// encoder. The codec-to-SSRC/payload-type binding lives entirely in
// this package's Config — the Media Agent only ever names a codec.
func (c *Coordinator) OnEncodedUnit(unit wire.AccessUnit) {
	if !c.run.Running() {
		c.runFlagDrops.Add(1)
		return
	}

	c.mu.Lock()
	binding, ok := c.byCodec[unit.Codec]
	c.mu.Unlock()
	if !ok {
		c.missingPacketizer.Add(1)
		c.log.Printf("[coordinator] no packetizer for codec %q, dropping unit", unit.Codec)
		return
	}

	for _, frag := range binding.Packetizer.Packetize(unit) {
		dg := OutboundDatagram{SSRC: binding.SSRC, PT: binding.PayloadType, Marker: frag.Marker, Timestamp: unit.Timestamp, Payload: frag.Payload}
		chanutil.SendDropOldest(c.Outbound, dg, &c.outboundDrops)
	}
}

func (c *Coordinator) Stats() Stats {
	return Stats{
		UnknownPT:         c.unknownPT.Load(),
		MissingPacketizer: c.missingPacketizer.Load(),
		RunFlagDrops:      c.runFlagDrops.Load(),
	}
}
