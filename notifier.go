package ioloop

// Notifier is a cross-goroutine wakeup signal. It is itself a descriptor,
// registered with the poller like any other, which becomes readable when
// signalled.
type Notifier interface {
	// Init acquires the underlying descriptor(s).
	Init() error
	// Ready reports whether Init has succeeded (and Close has not been
	// called).
	Ready() bool
	// FD returns the descriptor to register for EventRead.
	FD() int
	// Signal makes FD readable. Safe to call from any goroutine.
	Signal() error
	// OnReadinessEvent drains the signal, so it doesn't immediately fire
	// again. Called by the poller on the loop goroutine.
	OnReadinessEvent(events IOEvents)
	// Close releases the underlying descriptor(s).
	Close() error
}
