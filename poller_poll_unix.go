//go:build linux || darwin

package ioloop

import (
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// pollPoller is the level-triggered poll(2) backend.
//
// There is no kernel-side registration, so register/update/unregister only
// mutate the table, and the poll set is rebuilt before the next Wait.
type pollPoller struct {
	logger   *logiface.Logger[logiface.Event]
	errors   *pollErrorLog
	notifier Notifier
	table    fdTable
	pfds     []unix.PollFd
	dirty    bool
	closed   bool
}

var _ Poller = (*pollPoller)(nil)

func newPollPoller(cfg *pollerConfig) *pollPoller {
	return &pollPoller{
		logger:   cfg.logger,
		errors:   cfg.errors,
		notifier: cfg.newNotifier(),
	}
}

func (p *pollPoller) Init() error {
	if p.closed {
		return ErrPollerClosed
	}
	if !p.notifier.Ready() {
		if err := p.notifier.Init(); err != nil {
			return err
		}
		if err := p.RegisterFD(p.notifier.FD(), EventRead|EventError, p.notifier.OnReadinessEvent); err != nil {
			_ = p.notifier.Close()
			return err
		}
	}
	return nil
}

func (p *pollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.table = fdTable{}
	p.pfds = nil
	return p.notifier.Close()
}

func (p *pollPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if fd < 0 {
		return ErrInvalidParam
	}
	if p.closed {
		return ErrPollerClosed
	}
	op := `add`
	if p.table.lookup(fd) != nil {
		op = `mod`
	}
	p.table.store(fd, events, cb)
	p.dirty = true
	p.logger.Debug().
		Int(`fd`, fd).
		Stringer(`events`, events).
		Str(`op`, op).
		Log(`ioloop: poll registered`)
	return nil
}

func (p *pollPoller) UnregisterFD(fd int) error {
	if fd < 0 || fd > p.table.maxFD() {
		p.logger.Warning().
			Int(`fd`, fd).
			Int(`max_fd`, p.table.maxFD()).
			Log(`ioloop: poll unregister out of range`)
		return ErrInvalidParam
	}
	p.table.retire(fd)
	p.dirty = true
	return nil
}

func (p *pollPoller) UpdateFD(fd int, events IOEvents) error {
	slot := p.table.lookup(fd)
	if slot == nil {
		return ErrOperationFailed
	}
	slot.events = events
	p.dirty = true
	return nil
}

func (p *pollPoller) Wait(timeout time.Duration) error {
	if p.closed {
		return ErrPollerClosed
	}
	if p.dirty {
		p.rebuild()
	}

	n, err := unix.Poll(p.pfds, durationToMillis(timeout))
	if err != nil {
		if err != unix.EINTR {
			p.errors.record(PollPoll, osError(`poll`, fdUnused, err))
		}
		return nil
	}
	if n <= 0 {
		return nil
	}

	// callbacks may re-register, which rebuilds p.pfds on the next Wait but
	// never mutates the slice being iterated
	pfds := p.pfds
	for i := range pfds {
		if n == 0 {
			break
		}
		revents := pfds[i].Revents
		if revents == 0 {
			continue
		}
		n--
		pfds[i].Revents = 0
		if slot := p.table.lookup(int(pfds[i].Fd)); slot != nil && slot.callback != nil {
			slot.callback(pollToEvents(revents))
		}
	}

	return nil
}

// rebuild regenerates the poll set from the table, in fd order.
func (p *pollPoller) rebuild() {
	p.pfds = p.pfds[:0]
	for i := range p.table.slots {
		slot := &p.table.slots[i]
		if !slot.active() {
			continue
		}
		p.pfds = append(p.pfds, unix.PollFd{Fd: int32(slot.fd), Events: eventsToPoll(slot.events)})
	}
	p.dirty = false
}

func (p *pollPoller) Notify() {
	if err := p.notifier.Signal(); err != nil {
		p.logger.Warning().
			Err(err).
			Log(`ioloop: notify failed`)
	}
}

func (p *pollPoller) Type() PollType { return PollPoll }

func (p *pollPoller) IsLevelTriggered() bool { return true }

// eventsToPoll converts IOEvents to poll(2) event flags. Error and hang-up
// conditions are always reported by poll(2), and need not be requested.
func eventsToPoll(events IOEvents) int16 {
	var pollEvents int16
	if events&EventRead != 0 {
		pollEvents |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		pollEvents |= unix.POLLOUT
	}
	return pollEvents
}

// pollToEvents converts poll(2) revents to IOEvents.
func pollToEvents(revents int16) IOEvents {
	var events IOEvents
	if revents&unix.POLLIN != 0 {
		events |= EventRead
	}
	if revents&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		events |= EventError
	}
	return events
}
