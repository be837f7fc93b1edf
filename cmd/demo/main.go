// Command demo wires one end of a two-party call: signaling dial,
// Transport Endpoint over UDP, Media Transport Coordinator, and a
// synthetic-source Media Agent, driven by the Engine's state machine.
// CLI flags name the signaling server, the local and remote media
// addresses, and the peer ids, then it runs until SIGINT.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/n0remac/rtcore/coordinator"
	"github.com/n0remac/rtcore/engine"
	"github.com/n0remac/rtcore/mediaagent"
	"github.com/n0remac/rtcore/packetizer"
	"github.com/n0remac/rtcore/signaling"
	"github.com/n0remac/rtcore/transport"
	"github.com/n0remac/rtcore/wire"
)

const (
	videoCodec  = "video/passthrough"
	videoPT     = 96
	videoSSRC   = 0x1001
	maxFragment = packetizer.DefaultMaxPayload
)

func main() {
	server := flag.String("server", "ws://localhost:8080/ws/signal", "signaling server URL")
	remote := flag.String("remote", "127.0.0.1:6000", "remote UDP media address")
	listen := flag.String("listen", ":6000", "local UDP listen address")
	id := flag.String("id", "", "this peer's ID; generated if empty")
	peerID := flag.String("peer", "", "the remote peer's ID to call")
	flag.Parse()

	if *id == "" {
		*id = signaling.NewPeerID()
	}
	log.Printf("[demo] my id: %s", *id)

	sigAdapter, err := signaling.Dial(*server, nil)
	if err != nil {
		log.Fatalf("[demo] signaling dial: %v", err)
	}
	defer sigAdapter.Close()
	sigAdapter.PeerID = *id
	if err := sigAdapter.SendRegister(); err != nil {
		log.Printf("[demo] register: %v", err)
	}
	if *peerID != "" {
		if err := sigAdapter.SendOffer(signaling.Offer{To: *peerID, SDP: "udp:" + *listen}); err != nil {
			log.Printf("[demo] send offer: %v", err)
		}
	}

	udpConn, err := dialMedia(*listen, *remote)
	if err != nil {
		log.Fatalf("[demo] media socket: %v", err)
	}
	defer udpConn.Close()

	ep := transport.New(udpConn, transport.NullCipher{}, transport.Config{}, nil)

	run := engine.NewRunFlag()

	depack := packetizer.NewGenericDepacketizer(videoCodec)
	pack := packetizer.NewGenericPacketizer(maxFragment)
	coord := coordinator.New(run, coordinator.Config{
		Depacketizers: map[uint8]coordinator.DepacketizerEntry{
			videoPT: {Codec: videoCodec, Depacketizer: depack},
		},
		Codecs: map[string]coordinator.CodecBinding{
			videoCodec: {SSRC: videoSSRC, PayloadType: videoPT, Packetizer: pack},
		},
	}, nil)

	agent := mediaagent.New(run, mediaagent.Config{
		Source:       mediaagent.NewSyntheticSource(320, 240),
		Encoder:      mediaagent.NewPassthrough(videoCodec, 320, 240),
		EncodedCodec: videoCodec,
		Decoders: map[string]mediaagent.Decoder{
			videoCodec: mediaagent.NewPassthrough(videoCodec, 320, 240),
		},
		ChunksIn:  coord.Chunks,
		OnEncoded: coord.OnEncodedUnit,
		OnDecoded: func(f wire.DecodedFrame) {
			log.Printf("[demo] decoded frame %dx%d pts=%d", f.Width, f.Height, f.PTS)
		},
	}, nil)

	eng := engine.New(engine.Config{
		Transport: ep,
		Inbound:   coord,
		Keyframer: agent,
		Agent:     agent,
		RunFlag:   run,
	}, sigAdapter.Events, nil)
	defer eng.Stop()

	go pumpOutbound(coord, ep)
	go logEvents(eng)

	if err := eng.AcceptRemoteDescription(); err != nil {
		log.Printf("[demo] accept remote description: %v", err)
	}
	if err := eng.NotifyConnectivityEstablished(); err != nil {
		log.Printf("[demo] notify connectivity: %v", err)
	}
	if err := eng.StartMediaSending(); err != nil {
		log.Printf("[demo] start media sending: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[demo] closing down")
}

func dialMedia(listen, remote string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolve listen addr: %w", err)
	}
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("resolve remote addr: %w", err)
	}
	return net.DialUDP("udp", laddr, raddr)
}

func pumpOutbound(coord *coordinator.Coordinator, ep *transport.Endpoint) {
	for dg := range coord.Outbound {
		if err := ep.Send(dg.SSRC, dg.PT, dg.Timestamp, dg.Marker, dg.Payload); err != nil {
			log.Printf("[demo] send failed: %v", err)
		}
	}
}

func logEvents(eng *engine.Engine) {
	for ev := range eng.Events {
		switch v := ev.(type) {
		case engine.StateChanged:
			log.Printf("[demo] state -> %s", v.State)
		case engine.RTCPMetrics:
			log.Printf("[demo] rtcp ssrc=%d lost=%d jitter=%d rtt=%s", v.SSRC, v.CumulativeLost, v.Jitter, v.RTT)
		case engine.Signaling:
			log.Printf("[demo] signaling event: %#v", v.Payload)
		case engine.Fatal:
			log.Printf("[demo] fatal: %v", v.Err)
			return
		}
	}
}
