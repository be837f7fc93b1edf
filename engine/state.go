package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/n0remac/rtcore/wire"
)

// ErrInvalidTransition is returned by a lifecycle command attempted
// from a state it doesn't apply to.
type ErrInvalidTransition struct {
	From wire.ConnState
	To   wire.ConnState
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("engine: invalid transition %s -> %s", e.From, e.To)
}

// connState is an atomic box around wire.ConnState, the Engine's sole
// process-wide connection state value.
type connState struct {
	v atomic.Int32
}

func (s *connState) load() wire.ConnState { return wire.ConnState(s.v.Load()) }
func (s *connState) store(v wire.ConnState) { s.v.Store(int32(v)) }

// transition moves the state from `from` to `to` if the current value
// is `from`; any state may transition to Closing unconditionally, on
// hang-up or a fatal transport failure.
func (s *connState) transition(from, to wire.ConnState) error {
	if to == wire.Closing {
		s.store(wire.Closing)
		return nil
	}
	if !s.v.CompareAndSwap(int32(from), int32(to)) {
		return &ErrInvalidTransition{From: s.load(), To: to}
	}
	return nil
}
