package mediaagent

import "github.com/n0remac/rtcore/wire"

// Encoder turns a captured raw frame into one codec access unit. When
// forceKeyframe is set the encoder must produce a keyframe regardless
// of its own GOP schedule, on a Running transition or a
// picture-loss-indication.
type Encoder interface {
	Encode(frame wire.CapturedFrame, forceKeyframe bool) (wire.AccessUnit, error)
}

// Decoder turns a reassembled access unit into a decoded frame ready
// for the render sink.
type Decoder interface {
	Decode(unit wire.AccessUnit) (wire.DecodedFrame, error)
}

// Passthrough treats every access unit's bytes as already wire-ready:
// no compression, no real pixel format. It exists so the encode/decode
// round trip (and everything downstream of it) is testable without a
// real video codec library linked in — a real codec is an external
// collaborator, same as the camera driver.
type Passthrough struct {
	Codec         string
	Width, Height int
}

func NewPassthrough(codec string, width, height int) *Passthrough {
	return &Passthrough{Codec: codec, Width: width, Height: height}
}

func (p *Passthrough) Encode(frame wire.CapturedFrame, forceKeyframe bool) (wire.AccessUnit, error) {
	return wire.AccessUnit{
		Codec:     p.Codec,
		Timestamp: uint32(frame.CapturedAt),
		Keyframe:  forceKeyframe || frame.Keyframe,
		Data:      append([]byte(nil), frame.Data...),
	}, nil
}

func (p *Passthrough) Decode(unit wire.AccessUnit) (wire.DecodedFrame, error) {
	return wire.DecodedFrame{
		Width:  p.Width,
		Height: p.Height,
		Planes: [][]byte{append([]byte(nil), unit.Data...)},
		PTS:    unit.Timestamp,
	}, nil
}
