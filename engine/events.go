package engine

import (
	"time"

	"github.com/n0remac/rtcore/wire"
)

// Event is the application-level event surface the Engine delivers on
// its Events channel: state changes, metrics, signaling payloads, and
// transport failures, multiplexed into this single stream.
type Event interface{ isEngineEvent() }

// StateChanged is emitted whenever the Connection State transitions.
type StateChanged struct {
	State wire.ConnState
}

func (StateChanged) isEngineEvent() {}

// RTCPMetrics is emitted once per outbound SSRC on the 1s metrics
// polling timer.
type RTCPMetrics struct {
	SSRC           uint32
	FractionLost   uint8
	CumulativeLost uint32
	HighestSeq     uint32
	Jitter         uint32
	RTT            time.Duration
	HaveRTT        bool
}

func (RTCPMetrics) isEngineEvent() {}

// Signaling wraps whatever the signaling adapter delivered. The Engine
// forwards every payload as-is; a signaling.Bye or an error wrapping
// signaling.ErrKeepAliveTimeout additionally takes the session to
// Closing.
type Signaling struct {
	Payload any
}

func (Signaling) isEngineEvent() {}

// Fatal is emitted when the transport poisons itself; the Engine has
// already transitioned to Closing by the time this is observed.
type Fatal struct {
	Err error
}

func (Fatal) isEngineEvent() {}
