//go:build linux || darwin

package ioloop

import (
	"sync"
	"unsafe"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// fdNotifier implements Notifier over a read/write descriptor pair, which
// may be the same descriptor (eventfd).
type fdNotifier struct {
	open    func() (r, w int, err error)
	pending *atomic.Bool
	mu      sync.RWMutex
	readFD  int
	writeFD int
	buf     [8]byte
	ready   bool
}

func newFDNotifier(open func() (r, w int, err error)) *fdNotifier {
	return &fdNotifier{
		open:    open,
		pending: atomic.NewBool(false),
		readFD:  fdUnused,
		writeFD: fdUnused,
	}
}

func (x *fdNotifier) Init() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ready {
		return nil
	}
	r, w, err := x.open()
	if err != nil {
		return osError(`notifier`, fdUnused, err)
	}
	x.readFD, x.writeFD = r, w
	x.pending.Store(false)
	x.ready = true
	return nil
}

func (x *fdNotifier) Ready() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ready
}

func (x *fdNotifier) FD() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.readFD
}

// Signal writes to the notifier, unless a previous signal is still pending.
func (x *fdNotifier) Signal() error {
	if !x.pending.CompareAndSwap(false, true) {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.ready {
		x.pending.Store(false)
		return ErrPollerClosed
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	for {
		_, err := unix.Write(x.writeFD, buf)
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN: the counter or pipe is already full, so it's readable
			return nil
		case unix.EINTR:
			continue
		default:
			x.pending.Store(false)
			return osError(`write`, x.writeFD, err)
		}
	}
}

// OnReadinessEvent reads until the notifier would block.
func (x *fdNotifier) OnReadinessEvent(IOEvents) {
	for {
		_, err := unix.Read(x.readFD, x.buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			break
		}
	}
	x.pending.Store(false)
}

func (x *fdNotifier) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.ready {
		return nil
	}
	x.ready = false
	err := unix.Close(x.readFD)
	if x.writeFD != x.readFD {
		if e := unix.Close(x.writeFD); err == nil {
			err = e
		}
	}
	x.readFD, x.writeFD = fdUnused, fdUnused
	if err != nil {
		return osError(`close`, fdUnused, err)
	}
	return nil
}
