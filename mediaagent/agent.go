package mediaagent

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/n0remac/rtcore/engine"
	"github.com/n0remac/rtcore/internal/chanutil"
	"github.com/n0remac/rtcore/wire"
)

// Stats exposes the Media Agent's drop/error counters.
type Stats struct {
	FramesDropped   uint64
	EncodeFailures  uint64
	DecodeFailures  uint64
	MissingDecoders uint64
}

// Config wires one encode path and a set of decode paths (keyed by
// codec) into an Agent.
type Config struct {
	Source        FrameSource
	Encoder       Encoder
	EncodedCodec  string
	FrameInterval time.Duration // capture poll period; default 33ms (~30fps)

	Decoders map[string]Decoder
	// ChunksIn is the Coordinator's output channel: one reassembled
	// access unit per successfully depacketized unit.
	ChunksIn <-chan wire.Chunk

	// OnEncoded is called for every access unit the encoder produces —
	// the bridge to Coordinator.OnEncodedUnit.
	OnEncoded func(wire.AccessUnit)
	// OnDecoded is called for every frame the decoder produces — the
	// render sink.
	OnDecoded func(wire.DecodedFrame)

	RawQueueLen int
}

// Agent owns one encoder worker and one decoder worker, bridging raw
// captured frames to the Coordinator on the send side and reassembled
// chunks to a render sink on the receive side. It never sees payload
// types or SSRCs — only codec identifiers and access units.
type Agent struct {
	log *log.Logger
	run *engine.RunFlag
	cfg Config

	rawFrames chan wire.CapturedFrame
	rawDrops  atomic.Uint64

	forceKeyframe atomic.Bool

	encodeFailures  atomic.Uint64
	decodeFailures  atomic.Uint64
	missingDecoders atomic.Uint64

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(run *engine.RunFlag, cfg Config, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = 33 * time.Millisecond
	}
	if cfg.RawQueueLen == 0 {
		cfg.RawQueueLen = 8
	}
	a := &Agent{
		log:       logger,
		run:       run,
		cfg:       cfg,
		rawFrames: make(chan wire.CapturedFrame, cfg.RawQueueLen),
		closeCh:   make(chan struct{}),
	}
	a.wg.Add(4)
	go a.captureLoop()
	go a.encodeLoop()
	go a.keyframeWatchLoop()
	go a.decodeLoop()
	return a
}

// Close stops every worker. Consumers of OnEncoded/OnDecoded must
// tolerate no further calls after Close returns.
func (a *Agent) Close() {
	a.closeOnce.Do(func() { close(a.closeCh) })
	a.wg.Wait()
	if a.cfg.Source != nil {
		a.cfg.Source.Close()
	}
}

func (a *Agent) Stats() Stats {
	return Stats{
		FramesDropped:   a.rawDrops.Load(),
		EncodeFailures:  a.encodeFailures.Load(),
		DecodeFailures:  a.decodeFailures.Load(),
		MissingDecoders: a.missingDecoders.Load(),
	}
}

// keyframeWatchLoop forces a keyframe on the first frame after every
// transition into Running. PictureLossIndication
// events are wired in by the caller through ForceKeyframe.
func (a *Agent) keyframeWatchLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.closeCh:
			return
		case <-a.run.Wait():
			if a.run.Running() {
				a.forceKeyframe.Store(true)
			}
		}
	}
}

// ForceKeyframe requests a keyframe on the next encoded access unit —
// called by the caller on receipt of a PictureLossIndication.
func (a *Agent) ForceKeyframe() { a.forceKeyframe.Store(true) }

// captureLoop polls the Run Flag at each iteration. It must not open or
// poll the capture device while the flag is false; when true, it opens
// on demand and polls at FrameInterval.
func (a *Agent) captureLoop() {
	defer a.wg.Done()
	opened := false

	for {
		select {
		case <-a.closeCh:
			if opened {
				a.cfg.Source.Close()
			}
			return
		default:
		}

		if !a.run.Running() {
			if opened {
				a.cfg.Source.Close()
				opened = false
			}
			select {
			case <-a.closeCh:
				return
			case <-a.run.Wait():
				continue
			}
		}

		if !opened {
			if err := a.cfg.Source.Open(); err != nil {
				a.log.Printf("[mediaagent] capture device open failed, using synthetic fallback: %v", err)
				a.cfg.Source = NewSyntheticSource(0, 0)
				a.cfg.Source.Open()
			}
			opened = true
		}

		frame, err := a.cfg.Source.Read()
		if err != nil {
			a.log.Printf("[mediaagent] capture read failed: %v", err)
			continue
		}
		if frame.CapturedAt == 0 {
			frame.CapturedAt = time.Now().UnixNano()
		}

		chanutil.SendDropOldest(a.rawFrames, frame, &a.rawDrops)

		select {
		case <-a.closeCh:
			return
		case <-time.After(a.cfg.FrameInterval):
		}
	}
}

func (a *Agent) encodeLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.closeCh:
			return
		case frame := <-a.rawFrames:
			force := a.forceKeyframe.Swap(false)
			unit, err := a.cfg.Encoder.Encode(frame, force)
			if err != nil {
				a.encodeFailures.Add(1)
				a.log.Printf("[mediaagent] encode failed: %v", err)
				continue
			}
			unit.Codec = a.cfg.EncodedCodec
			if a.cfg.OnEncoded != nil {
				a.cfg.OnEncoded(unit)
			}
		}
	}
}

// decodeLoop consumes reassembled access units from the Coordinator in
// arrival order and produces decoded frames; it never reorders.
func (a *Agent) decodeLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.closeCh:
			return
		case chunk, ok := <-a.cfg.ChunksIn:
			if !ok {
				return
			}
			a.deliverChunk(chunk)
		}
	}
}

func (a *Agent) deliverChunk(chunk wire.Chunk) {
	dec, ok := a.cfg.Decoders[chunk.Codec]
	if !ok {
		a.missingDecoders.Add(1)
		return
	}
	frame, err := dec.Decode(chunk.Unit)
	if err != nil {
		a.decodeFailures.Add(1)
		a.log.Printf("[mediaagent] decode failed for codec %q: %v", chunk.Codec, err)
		return
	}
	if a.cfg.OnDecoded != nil {
		a.cfg.OnDecoded(frame)
	}
}
