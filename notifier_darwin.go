//go:build darwin

package ioloop

import (
	"syscall"
)

// newNotifier returns a self-pipe notifier, with both ends non-blocking and
// close-on-exec.
func newNotifier() Notifier {
	return newFDNotifier(func() (int, int, error) {
		var fds [2]int
		if err := syscall.Pipe(fds[:]); err != nil {
			return 0, 0, err
		}
		syscall.CloseOnExec(fds[0])
		syscall.CloseOnExec(fds[1])
		for _, fd := range fds {
			if err := syscall.SetNonblock(fd, true); err != nil {
				_ = syscall.Close(fds[0])
				_ = syscall.Close(fds[1])
				return 0, 0, err
			}
		}
		return fds[0], fds[1], nil
	})
}
