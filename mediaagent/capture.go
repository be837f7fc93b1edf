package mediaagent

import (
	"errors"
	"fmt"

	"github.com/n0remac/rtcore/wire"
)

// ErrDeviceUnavailable is what a real capture device returns when it
// cannot be opened; the capture worker falls back to SyntheticSource on
// this error rather than treating it as fatal.
var ErrDeviceUnavailable = errors.New("mediaagent: capture device unavailable")

// FrameSource is the capture ingress the Media Agent polls at its
// target frame rate. The camera driver itself is an external
// collaborator; this module ships only SyntheticSource.
type FrameSource interface {
	Open() error
	Read() (wire.CapturedFrame, error)
	Close() error
}

// SyntheticSource is a synthetic test-pattern generator: solid color
// bars with a frame counter burned into the first bytes. It is the
// fallback for a capture-device-open failure, and the only capture
// source this module ships.
type SyntheticSource struct {
	Width, Height int
	counter       uint32
	opened        bool
}

func NewSyntheticSource(width, height int) *SyntheticSource {
	return &SyntheticSource{Width: width, Height: height}
}

func (s *SyntheticSource) Open() error {
	s.opened = true
	return nil
}

func (s *SyntheticSource) Close() error {
	s.opened = false
	return nil
}

// Read produces one deterministic frame: a single plane of bar-coded
// bytes, with the frame counter written into the first 4 bytes so
// tests can assert ordering without decoding real pixels.
func (s *SyntheticSource) Read() (wire.CapturedFrame, error) {
	if !s.opened {
		return wire.CapturedFrame{}, fmt.Errorf("mediaagent: synthetic source read before open")
	}
	s.counter++
	size := s.Width * s.Height
	if size <= 0 {
		size = 4
	}
	data := make([]byte, size)
	data[0] = byte(s.counter)
	data[1] = byte(s.counter >> 8)
	data[2] = byte(s.counter >> 16)
	data[3] = byte(s.counter >> 24)
	bar := byte(s.counter % 8 * 32)
	for i := 4; i < len(data); i++ {
		data[i] = bar
	}
	return wire.CapturedFrame{
		Width:    s.Width,
		Height:   s.Height,
		Data:     data,
		Keyframe: s.counter%30 == 1,
	}, nil
}
