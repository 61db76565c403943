//go:build !linux && !darwin

package ioloop

const defaultPollType = PollNone

// platformPoller always returns nil, New fails with ErrPollTypeUnsupported.
func platformPoller(PollType, *pollerConfig) Poller { return nil }

func newNotifier() Notifier { return nil }

func closeFD(fd int) error { return ErrPollTypeUnsupported }
