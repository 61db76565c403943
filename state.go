package ioloop

import (
	"go.uber.org/atomic"
)

// LoopState is the lifecycle state of a Loop.
//
//	StateCreated     → StateInitialized [Init]
//	StateInitialized → StateRunning     [Loop]
//	StateRunning     → StateStopped     [Loop, after Stop]
//	(any but Running) → StateClosed     [Close]
type LoopState uint32

const (
	// StateCreated indicates the loop has been constructed, but Init has
	// not succeeded.
	StateCreated LoopState = iota
	// StateInitialized indicates the poller is ready and the owning
	// goroutine is bound.
	StateInitialized
	// StateRunning indicates Loop is iterating.
	StateRunning
	// StateStopped indicates Loop has returned, after its final drain.
	StateStopped
	// StateClosed indicates the poller has been released.
	StateClosed
)

func (s LoopState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// loopState is a CAS-driven state holder. Transitions out of a state are
// only ever attempted with TryTransition, so two racing callers (e.g. Loop
// and Close) can't both succeed.
type loopState struct {
	v *atomic.Uint32
}

func newLoopState() loopState {
	return loopState{v: atomic.NewUint32(uint32(StateCreated))}
}

func (s loopState) Load() LoopState { return LoopState(s.v.Load()) }

func (s loopState) Store(state LoopState) { s.v.Store(uint32(state)) }

// TryTransition reports whether the state was moved from one to to.
func (s loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionAny attempts TryTransition from each of validFrom in turn,
// returning the state it moved from.
func (s loopState) TransitionAny(validFrom []LoopState, to LoopState) (LoopState, bool) {
	for _, from := range validFrom {
		if s.TryTransition(from, to) {
			return from, true
		}
	}
	return 0, false
}
