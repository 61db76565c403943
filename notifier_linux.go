//go:build linux

package ioloop

import (
	"golang.org/x/sys/unix"
)

// newNotifier returns an eventfd-backed notifier, using the same descriptor
// as both the read and write end.
func newNotifier() Notifier {
	return newFDNotifier(func() (int, int, error) {
		fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
		return fd, fd, err
	})
}
