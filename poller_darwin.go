//go:build darwin

package ioloop

import (
	"golang.org/x/sys/unix"
)

const defaultPollType = PollPoll

// platformPoller returns the backend for t, or nil if there isn't one.
func platformPoller(t PollType, cfg *pollerConfig) Poller {
	if t == PollPoll {
		return newPollPoller(cfg)
	}
	return nil
}

// closeFD closes a descriptor on behalf of UnregisterFD.
func closeFD(fd int) error {
	if err := unix.Close(fd); err != nil {
		return osError(`close`, fd, err)
	}
	return nil
}
