//go:build linux

package ioloop

import (
	"golang.org/x/sys/unix"
)

const defaultPollType = PollEpoll

// platformPoller returns the backend for t, or nil if there isn't one.
func platformPoller(t PollType, cfg *pollerConfig) Poller {
	switch t {
	case PollEpoll:
		return newEpollPoller(cfg)
	case PollPoll:
		return newPollPoller(cfg)
	default:
		return nil
	}
}

// closeFD closes a descriptor on behalf of UnregisterFD.
func closeFD(fd int) error {
	if err := unix.Close(fd); err != nil {
		return osError(`close`, fd, err)
	}
	return nil
}
