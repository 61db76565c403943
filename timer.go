package ioloop

import (
	"container/heap"
	"time"
)

// TimerManager supplies the loop's wait budget.
//
// CheckExpire is called once per iteration, on the loop goroutine. It must
// fire any timers that are due, then return the time until the next one,
// bounded by budget. A negative budget means there is no bound, and a
// negative result means there is nothing to wait for (block until woken).
type TimerManager interface {
	CheckExpire(budget time.Duration) time.Duration
}

// Timer is a one-shot callback scheduled with Loop.ScheduleTimer.
type Timer struct {
	loop     *Loop
	fn       func()
	when     time.Time
	index    int
	canceled bool
}

// Cancel prevents the timer from firing, if it hasn't already. Like
// ScheduleTimer, it may be called from any goroutine, and takes effect on
// the loop goroutine.
func (t *Timer) Cancel() error {
	return t.loop.RunInEventLoop(func() {
		t.canceled = true
		t.loop.timerHeap.remove(t)
	})
}

// timerQueue implements heap.Interface, ordered by deadline.
type timerQueue []*Timer

func (q timerQueue) Len() int           { return len(q) }
func (q timerQueue) Less(i, j int) bool { return q[i].when.Before(q[j].when) }
func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// timerHeap is the default TimerManager. NOT thread safe, it belongs to the
// loop goroutine.
type timerHeap struct {
	queue timerQueue
	due   []*Timer
	now   func() time.Time
	run   func(fn func())
}

var _ TimerManager = (*timerHeap)(nil)

func newTimerHeap(run func(fn func())) *timerHeap {
	return &timerHeap{now: time.Now, run: run}
}

func (h *timerHeap) push(t *Timer) {
	heap.Push(&h.queue, t)
}

func (h *timerHeap) remove(t *Timer) {
	if t.index >= 0 && t.index < len(h.queue) && h.queue[t.index] == t {
		heap.Remove(&h.queue, t.index)
	}
}

// CheckExpire fires every timer due at the time of the call. Timers
// scheduled by those callbacks are left for the next call.
func (h *timerHeap) CheckExpire(budget time.Duration) time.Duration {
	now := h.now()
	for len(h.queue) > 0 && !h.queue[0].when.After(now) {
		h.due = append(h.due, heap.Pop(&h.queue).(*Timer))
	}
	for i, t := range h.due {
		h.due[i] = nil
		if !t.canceled {
			h.run(t.fn)
		}
	}
	h.due = h.due[:0]

	if len(h.queue) == 0 {
		return budget
	}
	next := h.queue[0].when.Sub(h.now())
	if next < 0 {
		next = 0
	}
	if budget >= 0 && budget < next {
		return budget
	}
	return next
}

func (h *timerHeap) len() int { return len(h.queue) }
