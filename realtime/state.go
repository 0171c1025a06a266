package realtime

import (
	"fmt"
	"sync/atomic"
)

type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateStreaming
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// stateValue is the one piece of state both halves of a session share.
type stateValue struct {
	v atomic.Int32
}

func (s *stateValue) load() State {
	return State(s.v.Load())
}

func (s *stateValue) store(st State) {
	s.v.Store(int32(st))
}

func (s *stateValue) swap(st State) State {
	return State(s.v.Swap(int32(st)))
}

func (s *stateValue) advance(from, to State) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}
