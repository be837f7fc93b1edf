package engine

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/n0remac/rtcore/internal/chanutil"
	"github.com/n0remac/rtcore/signaling"
	"github.com/n0remac/rtcore/transport"
	"github.com/n0remac/rtcore/wire"
)

// InboundRouter is the Coordinator's inbound entry point. Defined here
// instead of imported directly: coordinator imports engine for the Run
// Flag, so engine cannot import coordinator back.
type InboundRouter interface {
	OnIncomingDatagram(ssrc uint32, pt uint8, seq uint16, ts uint32, marker bool, payload []byte)
}

// KeyframeRequester is the Media Agent's picture-loss-indication entry
// point, for the same reason InboundRouter is an interface here.
type KeyframeRequester interface {
	ForceKeyframe()
}

// Closer is satisfied by the Media Agent's teardown method. An
// interface, not a direct import, for the same reason InboundRouter
// and KeyframeRequester are: the Media Agent imports engine for the
// Run Flag, so engine cannot import it back.
type Closer interface{ Close() }

// Config wires an Engine to its collaborators: the Transport Endpoint
// it routes events from, polls for metrics, and closes on Stop; the
// inbound and keyframe entry points it routes to; and the Media Agent
// it closes on Stop.
type Config struct {
	Transport *transport.Endpoint
	Inbound   InboundRouter
	Keyframer KeyframeRequester

	// Agent is closed by Stop alongside Transport, so its capture,
	// encode, decode, and keyframe-watch workers join within Stop's
	// drain window instead of outliving the session.
	Agent Closer

	// RunFlag lets the caller share one Run Flag across the Engine and
	// collaborators (the Coordinator, the Media Agent) that must be
	// constructed with it before the Engine exists. A fresh one is
	// created if left nil.
	RunFlag *RunFlag

	MetricsInterval time.Duration // default 1s
}

// Engine is the single owner of the Connection State and the Run Flag:
// the sole publisher of state-transition events, and the only
// component that knows about both the signaling and media planes.
type Engine struct {
	log *log.Logger
	cfg Config

	state connState
	run   *RunFlag

	Events chan Event

	signalingIn <-chan any

	closeCh   chan struct{}
	closeOnce sync.Once
}

func New(cfg Config, signalingIn <-chan any, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.MetricsInterval == 0 {
		cfg.MetricsInterval = time.Second
	}
	run := cfg.RunFlag
	if run == nil {
		run = NewRunFlag()
	}
	e := &Engine{
		log:         logger,
		cfg:         cfg,
		run:         run,
		Events:      make(chan Event, 64),
		signalingIn: signalingIn,
		closeCh:     make(chan struct{}),
	}
	e.state.store(wire.Idle)
	go e.run_()
	return e
}

// RunFlag exposes the Run Flag for workers outside this package
// (Coordinator, Media Agent) that must be constructed with it.
func (e *Engine) RunFlag() *RunFlag { return e.run }

// State returns the current Connection State.
func (e *Engine) State() wire.ConnState { return e.state.load() }

func (e *Engine) emit(ev Event) {
	chanutil.SendDropOldest[Event](e.Events, ev, nil)
}

// AcceptRemoteDescription performs Idle -> Negotiating.
func (e *Engine) AcceptRemoteDescription() error {
	if err := e.state.transition(wire.Idle, wire.Negotiating); err != nil {
		return err
	}
	e.emit(StateChanged{State: wire.Negotiating})
	return nil
}

// NotifyConnectivityEstablished performs Negotiating -> IceNominated,
// reported by the external ICE/connectivity subsystem once a candidate
// pair succeeds.
func (e *Engine) NotifyConnectivityEstablished() error {
	if err := e.state.transition(wire.Negotiating, wire.IceNominated); err != nil {
		return err
	}
	e.emit(StateChanged{State: wire.IceNominated})
	return nil
}

// StartMediaSending performs IceNominated -> Running and flips the Run
// Flag, waking every worker blocked on it.
func (e *Engine) StartMediaSending() error {
	if err := e.state.transition(wire.IceNominated, wire.Running); err != nil {
		return err
	}
	e.run.Set(true)
	e.emit(StateChanged{State: wire.Running})
	return nil
}

// Stop flips the Run Flag false, transitions to Closing, and closes
// the Transport Endpoint and Media Agent so their worker goroutines
// join within each one's own bounded drain deadline. Safe to call more
// than once: every step it drives is itself idempotent.
func (e *Engine) Stop() {
	e.run.Set(false)
	e.state.transition(e.state.load(), wire.Closing)
	e.emit(StateChanged{State: wire.Closing})
	e.closeOnce.Do(func() { close(e.closeCh) })
	if e.cfg.Transport != nil {
		e.cfg.Transport.Close()
	}
	if e.cfg.Agent != nil {
		e.cfg.Agent.Close()
	}
}

// run_ is the Engine's event-router goroutine: it multiplexes transport
// events, the metrics timer, and signaling adapter events into Events.
// Named with a trailing underscore to avoid shadowing the Run Flag's
// "running" vocabulary while still reading as "the run loop".
func (e *Engine) run_() {
	ticker := time.NewTicker(e.cfg.MetricsInterval)
	defer ticker.Stop()

	var transportEvents <-chan transport.Event
	if e.cfg.Transport != nil {
		transportEvents = e.cfg.Transport.Events
	}

	for {
		select {
		case <-e.closeCh:
			return

		case ev, ok := <-transportEvents:
			if !ok {
				transportEvents = nil
				continue
			}
			e.handleTransportEvent(ev)

		case <-ticker.C:
			e.pollMetrics()

		case msg, ok := <-e.signalingIn:
			if !ok {
				e.signalingIn = nil
				continue
			}
			e.handleSignalingEvent(msg)
		}
	}
}

// handleSignalingEvent forwards every signaling payload as a Signaling
// event, and additionally drives the two payloads that are Connection
// State transitions in their own right: a received Bye (hang-up
// symmetry) and a keep-alive timeout both take the session to Closing.
func (e *Engine) handleSignalingEvent(msg any) {
	e.emit(Signaling{Payload: msg})
	switch v := msg.(type) {
	case signaling.Bye:
		e.Stop()
	case error:
		if errors.Is(v, signaling.ErrKeepAliveTimeout) {
			e.Stop()
		}
	}
}

// handleTransportEvent routes transport events onward: inbound media
// events are forwarded only to the Coordinator; the Engine never
// inspects payload types or payloads.
func (e *Engine) handleTransportEvent(ev transport.Event) {
	switch v := ev.(type) {
	case transport.PacketEvent:
		if e.cfg.Inbound != nil {
			e.cfg.Inbound.OnIncomingDatagram(v.SSRC, v.PayloadType, v.Sequence, v.Timestamp, v.Marker, v.Payload)
		}
	case transport.ClosedEvent:
		e.Stop()
		e.emit(Fatal{Err: v.Err})
	case transport.PLIEvent:
		if e.cfg.Keyframer != nil {
			e.cfg.Keyframer.ForceKeyframe()
		}
	}
}

func (e *Engine) pollMetrics() {
	if e.cfg.Transport == nil {
		return
	}
	for _, m := range e.cfg.Transport.Snapshot() {
		e.emit(RTCPMetrics{
			SSRC:           m.SSRC,
			FractionLost:   m.FractionLost,
			CumulativeLost: m.CumulativeLost,
			HighestSeq:     m.HighestSeq,
			Jitter:         m.Jitter,
			RTT:            m.RTT,
			HaveRTT:        m.HaveRTT,
		})
	}
}
