package ioloop

import (
	"sync"

	"github.com/eapache/queue"
)

// task is a queued unit of work. The optional cancel is called instead of
// run if the loop is closed before the task could be executed.
type task struct {
	run    func()
	cancel func(err error)
}

// taskQueue is the multi-producer, single-consumer FIFO of tasks submitted
// to the loop. Producers are any goroutine, the consumer is the owner.
type taskQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

// push appends t, failing with ErrLoopStopped once the queue is closed.
func (x *taskQueue) push(t task) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrLoopStopped
	}
	x.q.Add(t)
	return nil
}

// takeAll removes and returns every queued task, appending to buf.
func (x *taskQueue) takeAll(buf []task) []task {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.drainLocked(buf)
}

// takeOrClose behaves like takeAll, except that if the queue is already
// empty it is closed instead, atomically with respect to push.
func (x *taskQueue) takeOrClose(buf []task) []task {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.q.Length() == 0 {
		x.closed = true
		return buf
	}
	return x.drainLocked(buf)
}

// close closes the queue, returning anything that was still in it.
func (x *taskQueue) close(buf []task) []task {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	return x.drainLocked(buf)
}

func (x *taskQueue) drainLocked(buf []task) []task {
	for x.q.Length() > 0 {
		buf = append(buf, x.q.Remove().(task))
	}
	return buf
}

func (x *taskQueue) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.q.Length()
}
