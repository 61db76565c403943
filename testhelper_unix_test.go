//go:build linux || darwin

package ioloop

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// testPipe creates a non-blocking pipe, closed on cleanup.
func testPipe(t *testing.T) (r, w int) {
	t.Helper()
	r, w = testPipeNoCleanup(t)
	t.Cleanup(func() {
		_ = unix.Close(r)
		_ = unix.Close(w)
	})
	return r, w
}

func testPipeNoCleanup(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	return fds[0], fds[1]
}

func writeByte(t *testing.T, fd int) {
	t.Helper()
	n, err := unix.Write(fd, []byte{'x'})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// drainFD reads fd until it would block, returning the number of bytes.
func drainFD(fd int) (total int) {
	var buf [512]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
		total += n
	}
}

// newTestLoop returns an initialized loop, owned by the calling goroutine.
func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	loop, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, loop.Init())
	t.Cleanup(func() { assert.NoError(t, loop.Close()) })
	return loop
}

// startLoop runs a loop on a new goroutine. The returned stop function
// stops it, and waits for Loop to return, and is also called on cleanup.
func startLoop(t *testing.T, opts ...LoopOption) (*Loop, func() error) {
	t.Helper()
	loop, err := New(opts...)
	require.NoError(t, err)

	initErr := make(chan error, 1)
	done := make(chan error, 1)
	go func() {
		if err := loop.Init(); err != nil {
			initErr <- err
			return
		}
		initErr <- nil
		done <- loop.Loop(-1)
	}()
	require.NoError(t, <-initErr)
	require.Eventually(t, func() bool { return loop.State() == StateRunning }, 5*time.Second, time.Millisecond)

	stop := sync.OnceValue(func() error {
		loop.Stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			return errors.New("loop did not stop")
		}
	})
	t.Cleanup(func() {
		assert.NoError(t, stop())
		assert.NoError(t, loop.Close())
	})

	return loop, stop
}

// testPollTypes are the backends available on this platform.
func testPollTypes() []PollType {
	if defaultPollType == PollEpoll {
		return []PollType{PollEpoll, PollPoll}
	}
	return []PollType{PollPoll}
}

func newTestPoller(t *testing.T, pollType PollType) Poller {
	t.Helper()
	p := platformPoller(pollType, &pollerConfig{newNotifier: newNotifier})
	require.NotNil(t, p)
	require.NoError(t, p.Init())
	t.Cleanup(func() { assert.NoError(t, p.Close()) })
	return p
}
