package ioloop

import (
	"errors"
	"fmt"
)

// Error kinds. OS-level failures wrap ErrOperationFailed together with the
// underlying errno, so both may be matched with [errors.Is].
var (
	// ErrInvalidParam is returned for a negative or out-of-range descriptor,
	// or a malformed argument such as a nil task.
	ErrInvalidParam = errors.New("ioloop: invalid parameter")

	// ErrOperationFailed is returned when an underlying OS call failed, or
	// the targeted descriptor is not registered.
	ErrOperationFailed = errors.New("ioloop: operation failed")

	// ErrPollerClosed is returned by poller operations after Close.
	ErrPollerClosed = errors.New("ioloop: poller closed")

	// ErrPollTypeUnsupported is returned by New when no polling backend is
	// available on the current platform.
	ErrPollTypeUnsupported = errors.New("ioloop: poll type unsupported on this platform")

	// ErrNotLoopGoroutine is returned by Loop and LoopOnce when called from
	// any goroutine other than the one that called Init.
	ErrNotLoopGoroutine = errors.New("ioloop: not called from the loop goroutine")

	// ErrLoopNotInitialized is returned when iterating a loop before Init.
	ErrLoopNotInitialized = errors.New("ioloop: loop is not initialized")

	// ErrLoopAlreadyInitialized is returned by a second call to Init.
	ErrLoopAlreadyInitialized = errors.New("ioloop: loop is already initialized")

	// ErrLoopRunning is returned by Close while Loop is still iterating.
	ErrLoopRunning = errors.New("ioloop: loop is running")

	// ErrLoopStopped is returned by task submission once the loop has
	// performed its final drain.
	ErrLoopStopped = errors.New("ioloop: loop has stopped")

	// ErrLoopClosed is returned once the loop has released its poller.
	ErrLoopClosed = errors.New("ioloop: loop has been closed")

	// ErrTimersUnavailable is returned by ScheduleTimer when the loop was
	// configured with a custom TimerManager.
	ErrTimersUnavailable = errors.New("ioloop: timers unavailable with a custom timer manager")
)

// PanicError carries a value recovered from a panicking task.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("ioloop: task panicked: %v", e.Value)
}

// Unwrap returns the panic value, if it is an error, enabling use with
// [errors.Is] and [errors.As].
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// osError wraps an OS failure for the given syscall.
func osError(call string, fd int, err error) error {
	return fmt.Errorf("%w: %s(fd=%d): %w", ErrOperationFailed, call, fd, err)
}
