//go:build linux

package ioloop

import (
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// epollPoller is the edge-triggered epoll backend.
//
// Every registration carries EPOLLET, so callers must drain a descriptor
// until EAGAIN on each notification.
type epollPoller struct {
	logger   *logiface.Logger[logiface.Event]
	errors   *pollErrorLog
	notifier Notifier
	table    fdTable
	eventBuf [maxPollEvents]unix.EpollEvent
	epfd     int
	closed   bool
}

var _ Poller = (*epollPoller)(nil)

func newEpollPoller(cfg *pollerConfig) *epollPoller {
	return &epollPoller{
		logger:   cfg.logger,
		errors:   cfg.errors,
		notifier: cfg.newNotifier(),
		epfd:     fdUnused,
	}
}

func (p *epollPoller) Init() error {
	if p.closed {
		return ErrPollerClosed
	}
	if p.epfd == fdUnused {
		epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
		if err != nil {
			return osError(`epoll_create1`, fdUnused, err)
		}
		p.epfd = epfd
	}
	if !p.notifier.Ready() {
		if err := p.notifier.Init(); err != nil {
			p.closeEpfd()
			return err
		}
		if err := p.RegisterFD(p.notifier.FD(), EventRead|EventError, p.notifier.OnReadinessEvent); err != nil {
			_ = p.notifier.Close()
			p.closeEpfd()
			return err
		}
	}
	return nil
}

func (p *epollPoller) closeEpfd() {
	if p.epfd != fdUnused {
		_ = unix.Close(p.epfd)
		p.epfd = fdUnused
	}
	p.table = fdTable{}
}

func (p *epollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.notifier.Close()
	if p.epfd != fdUnused {
		if e := unix.Close(p.epfd); e != nil && err == nil {
			err = osError(`close`, p.epfd, e)
		}
		p.epfd = fdUnused
	}
	p.table = fdTable{}
	return err
}

func (p *epollPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if fd < 0 {
		return ErrInvalidParam
	}
	if p.closed {
		return ErrPollerClosed
	}

	op, opName := unix.EPOLL_CTL_ADD, `add`
	if p.table.lookup(fd) != nil {
		op, opName = unix.EPOLL_CTL_MOD, `mod`
	}

	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		p.logger.Err().
			Int(`fd`, fd).
			Uint64(`mask`, uint64(ev.Events)).
			Str(`op`, opName).
			Err(err).
			Log(`ioloop: epoll register failed`)
		return osError(`epoll_ctl(`+opName+`)`, fd, err)
	}

	p.table.store(fd, events, cb)

	p.logger.Debug().
		Int(`fd`, fd).
		Uint64(`mask`, uint64(ev.Events)).
		Str(`op`, opName).
		Log(`ioloop: epoll registered`)

	return nil
}

func (p *epollPoller) UnregisterFD(fd int) error {
	if fd < 0 || fd > p.table.maxFD() {
		p.logger.Warning().
			Int(`fd`, fd).
			Int(`max_fd`, p.table.maxFD()).
			Log(`ioloop: epoll unregister out of range`)
		return ErrInvalidParam
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		p.logger.Debug().
			Int(`fd`, fd).
			Err(err).
			Log(`ioloop: epoll del ignored error`)
	}
	p.table.retire(fd)
	return nil
}

func (p *epollPoller) UpdateFD(fd int, events IOEvents) error {
	slot := p.table.lookup(fd)
	if slot == nil {
		return ErrOperationFailed
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		p.logger.Err().
			Int(`fd`, fd).
			Uint64(`mask`, uint64(ev.Events)).
			Err(err).
			Log(`ioloop: epoll update failed`)
		return osError(`epoll_ctl(mod)`, fd, err)
	}
	slot.events = events
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) error {
	if p.closed {
		return ErrPollerClosed
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], durationToMillis(timeout))
	if err != nil {
		if err != unix.EINTR {
			p.errors.record(PollEpoll, osError(`epoll_wait`, p.epfd, err))
		}
		return nil
	}

	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		// re-checked per event, as an earlier callback may have unregistered it
		if slot := p.table.lookup(fd); slot != nil && slot.callback != nil {
			slot.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}

	return nil
}

func (p *epollPoller) Notify() {
	if err := p.notifier.Signal(); err != nil {
		p.logger.Warning().
			Err(err).
			Log(`ioloop: notify failed`)
	}
}

func (p *epollPoller) Type() PollType { return PollEpoll }

func (p *epollPoller) IsLevelTriggered() bool { return false }

// eventsToEpoll converts IOEvents to epoll event flags, always including
// EPOLLET.
func eventsToEpoll(events IOEvents) uint32 {
	epollEvents := uint32(unix.EPOLLET)
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	if events&EventError != 0 {
		epollEvents |= unix.EPOLLERR | unix.EPOLLHUP
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		events |= EventError
	}
	return events
}
