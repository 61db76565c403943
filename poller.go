package ioloop

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
)

// maxPollEvents bounds the number of readiness events collected per Wait.
const maxPollEvents = 256

// IOEvents is a portable readiness/interest mask.
type IOEvents uint32

const (
	// EventRead indicates the descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the descriptor is ready for writing.
	EventWrite
	// EventError indicates an error or hang-up condition on the descriptor.
	EventError
)

// String renders the mask as its set bits joined by "|", e.g. "read|error".
func (x IOEvents) String() string {
	if x == 0 {
		return "none"
	}
	var parts []string
	if x&EventRead != 0 {
		parts = append(parts, "read")
	}
	if x&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if x&EventError != 0 {
		parts = append(parts, "error")
	}
	if rest := x &^ (EventRead | EventWrite | EventError); rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}

// IOCallback is invoked on the loop goroutine with the readiness mask that
// actually fired.
type IOCallback func(events IOEvents)

// PollType identifies a polling backend.
type PollType int

const (
	// PollNone requests the platform default, and is reported when no
	// backend is available.
	PollNone PollType = iota
	// PollEpoll is the edge-triggered Linux epoll backend.
	PollEpoll
	// PollPoll is the level-triggered poll(2) backend.
	PollPoll
	// PollSelect is accepted as a request but has no implementation, and
	// falls back to the platform default.
	PollSelect
)

func (x PollType) String() string {
	switch x {
	case PollNone:
		return "none"
	case PollEpoll:
		return "epoll"
	case PollPoll:
		return "poll"
	case PollSelect:
		return "select"
	default:
		return "PollType(" + strconv.Itoa(int(x)) + ")"
	}
}

// Poller wraps one OS readiness-notification facility.
//
// With the exception of Notify, methods must only be called from the
// goroutine that owns the poller (the loop goroutine), and callbacks are
// invoked inline by Wait, on that goroutine.
//
// Edge-triggered implementations (IsLevelTriggered returns false) report a
// descriptor once per transition into the ready state, so callbacks must
// drain the descriptor until it would block. Level-triggered
// implementations report it on every Wait while it remains ready.
type Poller interface {
	// Init acquires the OS polling context and registers the wakeup
	// notifier.
	Init() error
	// Close releases the OS polling context and the notifier. Calls after
	// the first are no-ops.
	Close() error
	// RegisterFD starts (or, if already registered, modifies) monitoring of
	// fd.
	RegisterFD(fd int, events IOEvents, cb IOCallback) error
	// UnregisterFD stops monitoring of fd.
	UnregisterFD(fd int) error
	// UpdateFD changes the interest mask of a registered fd.
	UpdateFD(fd int, events IOEvents) error
	// Wait blocks up to timeout (negative meaning indefinitely), then
	// dispatches callbacks for ready descriptors. OS-level failures are
	// logged rather than returned.
	Wait(timeout time.Duration) error
	// Notify wakes a concurrent Wait. Safe to call from any goroutine.
	Notify()
	// Type reports the backend.
	Type() PollType
	// IsLevelTriggered reports whether readiness is level-triggered.
	IsLevelTriggered() bool
}

// newPoller selects a backend for the requested type, falling back to the
// platform default.
func newPoller(requested PollType, cfg *pollerConfig) (Poller, error) {
	if p := platformPoller(requested, cfg); p != nil {
		return p, nil
	}
	p := platformPoller(defaultPollType, cfg)
	if p == nil {
		return nil, ErrPollTypeUnsupported
	}
	if requested != PollNone {
		cfg.logger.Notice().
			Stringer(`requested`, requested).
			Stringer(`poll_type`, p.Type()).
			Log(`ioloop: requested poll type unavailable, using platform default`)
	}
	return p, nil
}

// pollerConfig is shared by all backends.
type pollerConfig struct {
	logger      *logiface.Logger[logiface.Event]
	errors      *pollErrorLog
	newNotifier func() Notifier
}

// durationToMillis converts a wait budget to a poll timeout, rounding up so
// a sub-millisecond deadline doesn't degrade into a busy loop. Negative
// durations map to -1 (block indefinitely).
func durationToMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	if d == 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
