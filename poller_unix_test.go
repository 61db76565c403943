//go:build linux || darwin

package ioloop

import (
	"errors"
	"math/rand"
	"os"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPoller_readableFiresCallback(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			r, w := testPipe(t)

			var got []IOEvents
			require.NoError(t, p.RegisterFD(r, EventRead, func(events IOEvents) { got = append(got, events) }))

			require.NoError(t, p.Wait(0))
			assert.Empty(t, got)

			writeByte(t, w)
			require.NoError(t, p.Wait(0))
			require.Len(t, got, 1)
			assert.NotZero(t, got[0]&EventRead)
		})
	}
}

func TestPoller_edgeVersusLevel(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			r, w := testPipe(t)

			var calls int
			require.NoError(t, p.RegisterFD(r, EventRead, func(IOEvents) { calls++ }))

			writeByte(t, w)
			require.NoError(t, p.Wait(0))
			require.Equal(t, 1, calls)

			// no read, so the descriptor stays readable
			require.NoError(t, p.Wait(0))
			if p.IsLevelTriggered() {
				assert.Equal(t, 2, calls)
			} else {
				assert.Equal(t, 1, calls)
			}
		})
	}
}

func TestPoller_unregisterSuppressesCallback(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			r, w := testPipe(t)

			var calls int
			require.NoError(t, p.RegisterFD(r, EventRead, func(IOEvents) { calls++ }))
			writeByte(t, w)
			require.NoError(t, p.UnregisterFD(r))
			require.NoError(t, p.Wait(0))
			assert.Zero(t, calls)
		})
	}
}

func TestPoller_reregisterReplacesCallback(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			r, w := testPipe(t)

			var first, second int
			require.NoError(t, p.RegisterFD(r, EventRead, func(IOEvents) { first++ }))
			// an epoll ADD would fail with EEXIST here
			require.NoError(t, p.RegisterFD(r, EventRead, func(IOEvents) { second++ }))

			writeByte(t, w)
			require.NoError(t, p.Wait(0))
			assert.Zero(t, first)
			assert.Equal(t, 1, second)
		})
	}
}

func TestPoller_updateInterest(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			_, w := testPipe(t)

			var got []IOEvents
			require.NoError(t, p.RegisterFD(w, EventRead, func(events IOEvents) { got = append(got, events) }))
			require.NoError(t, p.Wait(0))
			assert.Empty(t, got)

			require.NoError(t, p.UpdateFD(w, EventWrite))
			require.NoError(t, p.Wait(0))
			require.Len(t, got, 1)
			assert.NotZero(t, got[0]&EventWrite)
		})
	}
}

func TestPoller_invalidDescriptors(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			table := pollerTable(t, p)
			registered, _ := testPipe(t)
			require.NoError(t, p.RegisterFD(registered, EventRead, func(IOEvents) {}))
			shape := tableShape(table)

			assert.ErrorIs(t, p.RegisterFD(-1, EventRead, nil), ErrInvalidParam)
			assert.ErrorIs(t, p.RegisterFD(-1<<20, EventRead, func(IOEvents) {}), ErrInvalidParam)
			assert.Equal(t, shape, tableShape(table))
			assert.ErrorIs(t, p.UnregisterFD(-1), ErrInvalidParam)
			assert.ErrorIs(t, p.UnregisterFD(1<<20), ErrInvalidParam)
			assert.ErrorIs(t, p.UpdateFD(1<<20, EventRead), ErrOperationFailed)

			r, _ := testPipe(t)
			assert.ErrorIs(t, p.UpdateFD(r, EventRead), ErrOperationFailed)
		})
	}
}

func TestPoller_randomSequenceKeepsTableDense(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			table := pollerTable(t, p)

			var pool []int
			for i := 0; i < 8; i++ {
				r, w := testPipe(t)
				pool = append(pool, r, w)
			}

			rng := rand.New(rand.NewSource(7))
			registered := make(map[int]bool)
			for i := 0; i < 3000; i++ {
				fd := pool[rng.Intn(len(pool))]
				before := len(table.slots)
				switch rng.Intn(4) {
				case 0:
					require.NoError(t, p.RegisterFD(fd, EventRead, func(IOEvents) {}))
					registered[fd] = true
					assert.Equal(t, max(before, fd+1), len(table.slots))
				case 1:
					if !registered[fd] {
						continue
					}
					wasMax := fd == table.maxFD()
					require.NoError(t, p.UnregisterFD(fd))
					delete(registered, fd)
					if wasMax {
						assert.Equal(t, before-1, len(table.slots))
					} else {
						assert.Equal(t, before, len(table.slots))
					}
				case 2:
					if registered[fd] {
						require.NoError(t, p.UpdateFD(fd, EventRead|EventWrite))
					} else {
						assert.ErrorIs(t, p.UpdateFD(fd, EventRead), ErrOperationFailed)
					}
					assert.Equal(t, before, len(table.slots))
				default:
					shape := tableShape(table)
					assert.ErrorIs(t, p.RegisterFD(-1-rng.Intn(1<<16), EventRead, func(IOEvents) {}), ErrInvalidParam)
					assert.Equal(t, shape, tableShape(table))
				}

				requireDenseTable(t, table)
				for fd := range registered {
					require.NotNil(t, table.lookup(fd))
				}
			}
		})
	}
}

func TestPoller_hangupReportsError(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			r, w := testPipeNoCleanup(t)
			t.Cleanup(func() { _ = unix.Close(r) })

			var got IOEvents
			require.NoError(t, p.RegisterFD(r, EventRead|EventError, func(events IOEvents) { got |= events }))
			require.NoError(t, unix.Close(w))
			require.NoError(t, p.Wait(0))
			assert.NotZero(t, got&(EventError|EventRead), "got %v", got)
		})
	}
}

func TestPoller_closeIsIdempotent(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := platformPoller(pollType, &pollerConfig{newNotifier: newNotifier})
			require.NoError(t, p.Init())
			require.NoError(t, p.Close())
			require.NoError(t, p.Close())
			assert.ErrorIs(t, p.Wait(0), ErrPollerClosed)
			assert.ErrorIs(t, p.RegisterFD(0, EventRead, nil), ErrPollerClosed)
			assert.ErrorIs(t, p.Init(), ErrPollerClosed)
		})
	}
}

func TestPoller_notifyWakesWait(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			p.Notify()
			p.Notify()
			// returns immediately, rather than blocking forever
			require.NoError(t, p.Wait(-1))
		})
	}
}

func TestPoller_callbackUnregistersLaterDescriptor(t *testing.T) {
	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			r1, w1 := testPipe(t)
			r2, w2 := testPipe(t)

			var calls int
			cb := func(IOEvents) {
				calls++
				// whichever fires first retires both
				_ = p.UnregisterFD(r1)
				_ = p.UnregisterFD(r2)
			}
			require.NoError(t, p.RegisterFD(r1, EventRead, cb))
			require.NoError(t, p.RegisterFD(r2, EventRead, cb))
			writeByte(t, w1)
			writeByte(t, w2)
			require.NoError(t, p.Wait(0))
			assert.Equal(t, 1, calls)
		})
	}
}

func TestNewPoller_selection(t *testing.T) {
	cfg := &pollerConfig{newNotifier: newNotifier}

	p, err := newPoller(PollPoll, cfg)
	require.NoError(t, err)
	assert.Equal(t, PollPoll, p.Type())
	assert.True(t, p.IsLevelTriggered())

	for _, requested := range []PollType{PollNone, PollSelect, PollType(99)} {
		p, err := newPoller(requested, cfg)
		require.NoError(t, err)
		assert.Equal(t, defaultPollType, p.Type(), "requested %v", requested)
	}
}

func TestNewPoller_fallbackLogsNotice(t *testing.T) {
	logger, w := newTestLogger()
	p, err := newPoller(PollSelect, &pollerConfig{logger: logger, newNotifier: newNotifier})
	require.NoError(t, err)
	assert.Equal(t, defaultPollType, p.Type())
	assert.Len(t, w.find(logiface.LevelNotice, `ioloop: requested poll type unavailable, using platform default`), 1)
}

func TestNotifier_signalCoalesces(t *testing.T) {
	n := newNotifier()
	require.NoError(t, n.Init())
	defer n.Close()
	assert.True(t, n.Ready())
	assert.GreaterOrEqual(t, n.FD(), 0)

	require.NoError(t, n.Signal())
	require.NoError(t, n.Signal())
	assert.Equal(t, 8, drainFD(n.FD()), "expected exactly one write")

	n.OnReadinessEvent(EventRead)
	require.NoError(t, n.Signal())
	n.OnReadinessEvent(EventRead)
	assert.Zero(t, drainFD(n.FD()))
}

func TestNotifier_closed(t *testing.T) {
	n := newNotifier()
	assert.False(t, n.Ready())
	assert.ErrorIs(t, n.Signal(), ErrPollerClosed)
	require.NoError(t, n.Init())
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
	assert.False(t, n.Ready())
	assert.ErrorIs(t, n.Signal(), ErrPollerClosed)
}

func TestCloseFD(t *testing.T) {
	r, w := testPipeNoCleanup(t)
	defer unix.Close(w)
	require.NoError(t, closeFD(r))
	err := closeFD(r)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.True(t, errors.Is(err, unix.EBADF))
}

func TestPoller_registerRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "regular")
	require.NoError(t, err)
	defer f.Close()
	fd := int(f.Fd())

	for _, pollType := range testPollTypes() {
		t.Run(pollType.String(), func(t *testing.T) {
			p := newTestPoller(t, pollType)
			err := p.RegisterFD(fd, EventRead, func(IOEvents) {})
			if pollType == PollEpoll {
				// regular files don't support epoll, and the slot is left unused
				assert.ErrorIs(t, err, ErrOperationFailed)
				assert.ErrorIs(t, err, unix.EPERM)
				assert.ErrorIs(t, p.UpdateFD(fd, EventWrite), ErrOperationFailed)
				return
			}
			require.NoError(t, err)
			var calls int
			require.NoError(t, p.RegisterFD(fd, EventRead, func(IOEvents) { calls++ }))
			require.NoError(t, p.Wait(0))
			assert.Equal(t, 1, calls)
		})
	}
}
