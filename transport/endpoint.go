// Package transport is the Transport Endpoint: it owns one secured
// datagram socket, reorders and jitter-buffers inbound media, and paces
// outbound media and RTCP against it. Nothing above this package ever
// touches a raw socket or an rtp.Packet.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/n0remac/rtcore/internal/chanutil"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"golang.org/x/time/rate"
)

const maxDatagramSize = 1500

// Event is anything the Endpoint hands upward on its Events channel.
type Event interface{ isEvent() }

func (PacketEvent) isEvent() {}

// ClosedEvent reports that the endpoint stopped on a socket or cipher
// failure, carried in Err. A clean Close emits no ClosedEvent.
type ClosedEvent struct{ Err error }

func (ClosedEvent) isEvent() {}

// ErrClosed is returned by Send after the endpoint has stopped.
var ErrClosed = errors.New("transport: endpoint closed")

// Config tunes the reorder buffer, RTCP cadence, and queue depths. Zero
// values are replaced with the documented defaults in New.
type Config struct {
	Window       uint16 // reorder window, must be a power of two; default 64
	MaxHold      time.Duration
	ClockRates   map[uint8]uint32 // payload type -> RTP clock rate; unlisted PTs default to 90000
	SendQueueLen int
	EventQueueLen int
	RTCPInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.Window == 0 {
		c.Window = 64
	}
	if c.MaxHold == 0 {
		c.MaxHold = 40 * time.Millisecond
	}
	if c.SendQueueLen == 0 {
		c.SendQueueLen = 256
	}
	if c.EventQueueLen == 0 {
		c.EventQueueLen = 256
	}
	if c.RTCPInterval == 0 {
		c.RTCPInterval = time.Second
	}
}

type outboundPacket struct {
	ssrc      uint32
	pt        uint8
	marker    bool
	timestamp uint32
	payload   []byte
}

// Endpoint is one side of a secured RTP/RTCP datagram session: receiver,
// sender, and RTCP-scheduler workers sharing a per-SSRC stream table.
type Endpoint struct {
	sock   Socket
	cipher Cipher
	cfg    Config
	log    *log.Logger

	reporterSSRC uint32

	mu  sync.Mutex
	in  map[uint32]*inboundStream
	out map[uint32]*outboundStream

	Events   chan Event
	sendCh   chan outboundPacket
	sendDrop atomic.Uint64

	malformed   atomic.Uint64
	decryptFail atomic.Uint64

	limiter *rate.Limiter

	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// New builds an Endpoint around an already-connected Socket and starts
// its receiver, sender, and RTCP-scheduler goroutines.
func New(sock Socket, cipher Cipher, cfg Config, logger *log.Logger) *Endpoint {
	cfg.setDefaults()
	if logger == nil {
		logger = log.Default()
	}
	e := &Endpoint{
		sock:         sock,
		cipher:       cipher,
		cfg:          cfg,
		log:          logger,
		reporterSSRC: rand.Uint32(),
		in:           make(map[uint32]*inboundStream),
		out:          make(map[uint32]*outboundStream),
		Events:       make(chan Event, cfg.EventQueueLen),
		sendCh:       make(chan outboundPacket, cfg.SendQueueLen),
		limiter:      rate.NewLimiter(rate.Every(20*time.Millisecond), 5),
		closeCh:      make(chan struct{}),
	}

	e.wg.Add(3)
	go e.receiveLoop()
	go e.sendLoop()
	go e.rtcpLoop()
	return e
}

func (e *Endpoint) clockRateFor(pt uint8) uint32 {
	if r, ok := e.cfg.ClockRates[pt]; ok {
		return r
	}
	return 90000
}

// Send enqueues one encoded-media datagram for transmission on ssrc,
// dropping the oldest queued datagram if the send queue is full.
func (e *Endpoint) Send(ssrc uint32, pt uint8, timestamp uint32, marker bool, payload []byte) error {
	select {
	case <-e.closeCh:
		return ErrClosed
	default:
	}
	cp := append([]byte(nil), payload...)
	req := outboundPacket{ssrc: ssrc, pt: pt, marker: marker, timestamp: timestamp, payload: cp}
	chanutil.SendDropOldest(e.sendCh, req, &e.sendDrop)
	return nil
}

// Snapshot returns the current reception-quality metrics for every
// outbound SSRC (registered or sent on). A stream's fields stay zero
// until the remote peer reports on it.
func (e *Endpoint) Snapshot() []OutboundMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]OutboundMetrics, 0, len(e.out))
	for _, s := range e.out {
		out = append(out, OutboundMetrics{
			SSRC:           s.ssrc,
			FractionLost:   s.fractionLost,
			CumulativeLost: s.cumulativeLost,
			HighestSeq:     s.highestSeq,
			Jitter:         s.remoteJitter,
			RTT:            s.rtt,
			HaveRTT:        s.haveRTT,
		})
	}
	return out
}

// RegisterOutbound tells the endpoint to start tracking ssrc/pt as a
// stream we send on, so Snapshot and the sequence allocator have
// somewhere to keep state. Calling Send for an unregistered ssrc
// registers it implicitly on first send.
func (e *Endpoint) RegisterOutbound(ssrc uint32, pt uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.out[ssrc]; !ok {
		e.out[ssrc] = newOutboundStream(ssrc, pt)
	}
}

// Stats reports counters useful for diagnostics and tests: malformed
// datagrams discarded, decrypt failures, and outbound sends dropped for
// a full queue.
type Stats struct {
	Malformed   uint64
	DecryptFail uint64
	SendDropped uint64
}

func (e *Endpoint) Stats() Stats {
	return Stats{
		Malformed:   e.malformed.Load(),
		DecryptFail: e.decryptFail.Load(),
		SendDropped: e.sendDrop.Load(),
	}
}

// Close stops all workers and releases the socket. It blocks for at
// most 100ms for the workers to drain before returning.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closeCh)
		e.sock.Close()
	})
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}
	return e.closeErr
}

func (e *Endpoint) fatal(err error) {
	e.closeOnce.Do(func() {
		e.closeErr = err
		close(e.closeCh)
		e.sock.Close()
	})
	select {
	case e.Events <- ClosedEvent{Err: err}:
	default:
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type deadlineSetter interface {
	SetReadDeadline(time.Time) error
}

// receiveLoop reads, decrypts, classifies, and reorders inbound
// datagrams, emitting released PacketEvents in sequence order. Its read
// deadline tracks the earliest outstanding reorder-buffer deadline
// across every inbound SSRC, so a stalled gap gets declared lost on
// schedule even when no further datagram ever arrives.
func (e *Endpoint) receiveLoop() {
	defer e.wg.Done()
	buf := make([]byte, maxDatagramSize)

	for {
		select {
		case <-e.closeCh:
			return
		default:
		}

		if setter, ok := e.sock.(deadlineSetter); ok {
			setter.SetReadDeadline(e.nextWakeDeadline())
		}

		n, err := e.sock.Read(buf)
		now := time.Now()
		if err != nil {
			if isTimeout(err) {
				e.releaseDue(now)
				continue
			}
			select {
			case <-e.closeCh:
			default:
				e.fatal(fmt.Errorf("transport: read: %w", err))
			}
			return
		}

		plain, derr := e.cipher.Open(buf[:n])
		if derr != nil {
			e.decryptFail.Add(1)
			continue
		}
		e.handleDatagram(plain, now)
		e.releaseDue(now)
	}
}

func (e *Endpoint) nextWakeDeadline() time.Time {
	const idlePoll = 200 * time.Millisecond
	e.mu.Lock()
	defer e.mu.Unlock()

	deadline := time.Now().Add(idlePoll)
	have := false
	for _, s := range e.in {
		if d, ok := s.nextDeadline(); ok && (!have || d.Before(deadline)) {
			deadline = d
			have = true
		}
	}
	return deadline
}

// isRTCP demuxes RTP from RTCP on one shared socket by the convention of
// RFC 5761 §4: RTCP packet types fall in 192-223, which only overlaps
// RTP's marker-bit-set payload types 64-95 — dynamic payload types are
// expected to stay at 96 and above to keep the ranges disjoint.
func isRTCP(secondByte byte) bool {
	return secondByte >= 192 && secondByte <= 223
}

func (e *Endpoint) handleDatagram(plain []byte, now time.Time) {
	if len(plain) < 2 {
		e.malformed.Add(1)
		return
	}
	if isRTCP(plain[1]) {
		pkts, err := rtcp.Unmarshal(plain)
		if err != nil {
			e.malformed.Add(1)
			return
		}
		e.handleRTCP(pkts, now)
		return
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(plain); err != nil {
		e.malformed.Add(1)
		return
	}
	ev := PacketEvent{
		SSRC:        pkt.SSRC,
		PayloadType: pkt.PayloadType,
		Sequence:    pkt.SequenceNumber,
		Timestamp:   pkt.Timestamp,
		Marker:      pkt.Marker,
		Payload:     append([]byte(nil), pkt.Payload...),
	}

	e.mu.Lock()
	stream, ok := e.in[ev.SSRC]
	if !ok {
		stream = newInboundStream(ev.SSRC, e.cfg.Window, e.cfg.MaxHold, e.clockRateFor(ev.PayloadType))
		e.in[ev.SSRC] = stream
	}
	stream.insert(ev, now)
	e.mu.Unlock()
}

func (e *Endpoint) releaseDue(now time.Time) {
	e.mu.Lock()
	var released []PacketEvent
	for _, s := range e.in {
		released = append(released, s.release(now)...)
	}
	e.mu.Unlock()

	for _, pkt := range released {
		chanutil.SendDropOldest[Event](e.Events, pkt, nil)
	}
}

func (e *Endpoint) handleRTCP(pkts []rtcp.Packet, now time.Time) {
	nowNTP := toNTPMiddle(now)
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range pkts {
		switch rp := p.(type) {
		case *rtcp.ReceiverReport:
			for _, block := range rp.Reports {
				s, ok := e.out[block.SSRC]
				if !ok {
					continue
				}
				s.fractionLost = block.FractionLost
				s.cumulativeLost = block.TotalLost
				s.highestSeq = block.LastSequenceNumber
				s.remoteJitter = block.Jitter
				if block.LastSenderReport != 0 {
					s.rtt = computeRTT(nowNTP, block.LastSenderReport, block.Delay)
					s.haveRTT = true
				}
			}
		case *rtcp.SenderReport:
			if in, ok := e.in[rp.SSRC]; ok {
				in.noteSenderReport(toNTPMiddle(ntpToTime(rp.NTPTime)), now)
			}
		case *rtcp.PictureLossIndication:
			chanutil.SendDropOldest[Event](e.Events, PLIEvent{SSRC: rp.MediaSSRC}, nil)
		}
	}
}

// PLIEvent is the Endpoint's notification that the remote peer asked
// for a keyframe on one of our outbound SSRCs.
type PLIEvent struct{ SSRC uint32 }

func (PLIEvent) isEvent() {}

func ntpToTime(ntp uint64) time.Time {
	const ntpEpochOffset = 2208988800
	secs := int64(ntp>>32) - ntpEpochOffset
	frac := uint64(ntp & 0xffffffff)
	nsec := int64(frac * 1e9 >> 32)
	return time.Unix(secs, nsec)
}

// sendLoop drains the outbound queue, builds and encrypts wire packets,
// and paces retries on transient write failure with a token-bucket
// limiter rather than a tight retry spin.
func (e *Endpoint) sendLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.closeCh:
			return
		case req := <-e.sendCh:
			e.sendOne(req)
		}
	}
}

func (e *Endpoint) sendOne(req outboundPacket) {
	e.mu.Lock()
	stream, ok := e.out[req.ssrc]
	if !ok {
		stream = newOutboundStream(req.ssrc, req.pt)
		e.out[req.ssrc] = stream
	}
	seq := stream.allocateSeq()
	e.mu.Unlock()

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    req.pt,
			SequenceNumber: seq,
			Timestamp:      req.timestamp,
			SSRC:           req.ssrc,
			Marker:         req.marker,
		},
		Payload: req.payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		e.log.Printf("[transport] marshal outbound packet: %v", err)
		return
	}
	cipherText, err := e.cipher.Seal(raw)
	if err != nil {
		e.fatal(fmt.Errorf("transport: seal: %w", err))
		return
	}

	for attempt := 0; attempt < 3; attempt++ {
		if _, err := e.sock.Write(cipherText); err != nil {
			if isTimeout(err) {
				e.limiter.Wait(context.Background())
				continue
			}
			e.fatal(fmt.Errorf("transport: write: %w", err))
			return
		}
		return
	}
}

// rtcpLoop periodically sends a receiver report summarizing every
// inbound stream, jittered ±15% so peers in the same session don't
// synchronize their RTCP traffic.
func (e *Endpoint) rtcpLoop() {
	defer e.wg.Done()
	for {
		wait := jitterInterval(e.cfg.RTCPInterval)
		select {
		case <-e.closeCh:
			return
		case <-time.After(wait):
			e.sendReceiverReports()
		}
	}
}

func jitterInterval(base time.Duration) time.Duration {
	spread := float64(base) * 0.15
	offset := (rand.Float64()*2 - 1) * spread
	return base + time.Duration(offset)
}

func (e *Endpoint) sendReceiverReports() {
	now := time.Now()
	e.mu.Lock()
	blocks := make([]rtcp.ReceptionReport, 0, len(e.in))
	for _, s := range e.in {
		b := s.buildReportBlock(now)
		blocks = append(blocks, rtcp.ReceptionReport{
			SSRC:               b.ssrc,
			FractionLost:       b.fractionLost,
			TotalLost:          b.cumulativeLost,
			LastSequenceNumber: b.highestSeq,
			Jitter:             b.jitter,
			LastSenderReport:   b.lastSR,
			Delay:              b.delaySinceLSR,
		})
	}
	reporter := e.reporterSSRC
	e.mu.Unlock()

	if len(blocks) == 0 {
		return
	}
	rr := &rtcp.ReceiverReport{SSRC: reporter, Reports: blocks}
	raw, err := rr.Marshal()
	if err != nil {
		e.log.Printf("[transport] marshal receiver report: %v", err)
		return
	}
	cipherText, err := e.cipher.Seal(raw)
	if err != nil {
		e.fatal(fmt.Errorf("transport: seal receiver report: %w", err))
		return
	}
	if _, err := e.sock.Write(cipherText); err != nil && !isTimeout(err) {
		e.fatal(fmt.Errorf("transport: write receiver report: %w", err))
	}
}
