package ioloop

// fdUnused marks a retired (or never used) slot in an fdTable.
const fdUnused = -1

// fdSlot stores per-fd registration state.
type fdSlot struct {
	callback IOCallback
	fd       int
	events   IOEvents
}

func (x *fdSlot) active() bool { return x.fd != fdUnused }

func (x *fdSlot) reset() { *x = fdSlot{fd: fdUnused} }

// fdTable is a dense registration table, indexed by fd value.
//
// Slots are retired by tombstoning them (fd = fdUnused) rather than removing
// them, since the OS reuses descriptor values after close, and a stale slot
// must never be reinterpreted. The single exception is the slot at the
// current maximum index, which is popped to bound growth.
//
// NOT thread safe, it belongs to the loop goroutine.
type fdTable struct {
	slots []fdSlot
}

// grow ensures fd is a valid index, filling new slots with fdUnused.
func (x *fdTable) grow(fd int) {
	for len(x.slots) <= fd {
		x.slots = append(x.slots, fdSlot{fd: fdUnused})
	}
}

// maxFD returns the largest valid index, or -1 if the table is empty.
func (x *fdTable) maxFD() int { return len(x.slots) - 1 }

// inRange reports whether fd is a valid index.
func (x *fdTable) inRange(fd int) bool { return fd >= 0 && fd < len(x.slots) }

// lookup returns the active slot for fd, or nil.
func (x *fdTable) lookup(fd int) *fdSlot {
	if !x.inRange(fd) || !x.slots[fd].active() {
		return nil
	}
	return &x.slots[fd]
}

// store activates (or overwrites) the slot for fd, growing as necessary.
func (x *fdTable) store(fd int, events IOEvents, cb IOCallback) {
	x.grow(fd)
	x.slots[fd] = fdSlot{fd: fd, events: events, callback: cb}
}

// retire tombstones the slot for fd, or pops it if it is the last one.
// The caller must ensure fd is in range.
func (x *fdTable) retire(fd int) {
	if fd == x.maxFD() {
		x.slots[fd] = fdSlot{}
		x.slots = x.slots[:fd]
		return
	}
	x.slots[fd].reset()
}

// activeCount returns the number of active slots.
func (x *fdTable) activeCount() (n int) {
	for i := range x.slots {
		if x.slots[i].active() {
			n++
		}
	}
	return
}
