package ioloop

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
	"go.uber.org/atomic"
)

// Loop is a goroutine-affine reactor. It multiplexes readiness of OS
// descriptors, timers, and tasks submitted from other goroutines, on a
// single owning goroutine: the one that called Init.
//
// Descriptor callbacks, timer callbacks, and queued tasks all run on the
// owning goroutine, one at a time. Methods documented as such may be called
// from any goroutine, and are marshalled onto the loop as necessary.
type Loop struct {
	logger    *logiface.Logger[logiface.Event]
	poller    Poller
	timers    TimerManager
	timerHeap *timerHeap // nil if timers is a custom manager
	tasks     *taskQueue
	metrics   *metrics
	owner     *atomic.Uint64
	stopping  *atomic.Bool
	taskBuf   []task
	listeners listenerSet
	state     loopState
	mu        sync.Mutex // serializes Init and Close
}

// New constructs a Loop. No OS resources are acquired until Init.
//
// Returns ErrPollTypeUnsupported if there is no polling backend for the
// current platform.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		logger:   cfg.logger,
		tasks:    newTaskQueue(),
		owner:    atomic.NewUint64(0),
		stopping: atomic.NewBool(false),
		state:    newLoopState(),
	}

	if cfg.metricsEnabled {
		l.metrics = newMetrics()
	}

	pollErrors := newPollErrorLog(cfg.logger, cfg.pollErrorRates)
	if l.metrics != nil {
		pollErrors.count = func() { l.metrics.pollErrors.Inc() }
	}

	l.poller, err = newPoller(cfg.pollType, &pollerConfig{
		logger:      cfg.logger,
		errors:      pollErrors,
		newNotifier: newNotifier,
	})
	if err != nil {
		return nil, err
	}

	if cfg.timers != nil {
		l.timers = cfg.timers
	} else {
		l.timerHeap = newTimerHeap(l.safeExecute)
		l.timers = l.timerHeap
	}

	return l, nil
}

// Init acquires the poller's OS resources, and binds the loop to the
// calling goroutine. Only Loop, LoopOnce, and inline execution of tasks are
// restricted to that goroutine.
func (l *Loop) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state.Load() {
	case StateCreated:
	case StateClosed:
		return ErrLoopClosed
	default:
		return ErrLoopAlreadyInitialized
	}

	if err := l.poller.Init(); err != nil {
		l.logger.Err().
			Stringer(`poll_type`, l.poller.Type()).
			Err(err).
			Log(`ioloop: poller init failed`)
		return err
	}

	l.owner.Store(goroutineID())
	l.stopping.Store(false)
	l.state.Store(StateInitialized)

	l.logger.Info().
		Stringer(`poll_type`, l.poller.Type()).
		Bool(`level_triggered`, l.poller.IsLevelTriggered()).
		Log(`ioloop: initialized`)

	return nil
}

// Loop iterates until Stop is called, each iteration waiting at most
// maxWait (negative meaning no bound, beyond that set by timers).
//
// Once stopped, every task still queued is run, further submissions fail
// with ErrLoopStopped, and each Listener is notified exactly once.
// The calling goroutine is locked to its OS thread for the duration.
func (l *Loop) Loop(maxWait time.Duration) error {
	if err := l.checkIterate(); err != nil {
		return err
	}
	if !l.state.TryTransition(StateInitialized, StateRunning) {
		return l.stateError()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.logger.Info().
		Stringer(`poll_type`, l.poller.Type()).
		Dur(`max_wait`, maxWait).
		Log(`ioloop: loop started`)

	var err error
	for !l.stopping.Load() {
		if err = l.iterate(maxWait); err != nil {
			l.logger.Err().
				Err(err).
				Log(`ioloop: iteration failed`)
			break
		}
	}

	l.shutdown()

	return err
}

// LoopOnce performs a single iteration: it runs every task queued at the
// time of the call, fires due timers, then waits for readiness events for
// at most maxWait (negative meaning no bound, beyond that set by timers),
// dispatching their callbacks.
func (l *Loop) LoopOnce(maxWait time.Duration) error {
	if err := l.checkIterate(); err != nil {
		return err
	}
	return l.iterate(maxWait)
}

func (l *Loop) checkIterate() error {
	switch l.state.Load() {
	case StateInitialized, StateRunning:
	default:
		return l.stateError()
	}
	if !l.IsInEventLoopThread() {
		return ErrNotLoopGoroutine
	}
	return nil
}

func (l *Loop) stateError() error {
	switch l.state.Load() {
	case StateCreated:
		return ErrLoopNotInitialized
	case StateRunning:
		return ErrLoopRunning
	case StateStopped:
		return ErrLoopStopped
	case StateClosed:
		return ErrLoopClosed
	default:
		return ErrLoopAlreadyInitialized
	}
}

func (l *Loop) iterate(maxWait time.Duration) error {
	l.drain((*taskQueue).takeAll)

	budget := l.timers.CheckExpire(maxWait)
	if maxWait >= 0 && (budget < 0 || budget > maxWait) {
		budget = maxWait
	}

	// anything submitted by the tasks or timers above runs next iteration,
	// without blocking
	if l.stopping.Load() || l.tasks.len() != 0 {
		budget = 0
	}

	err := l.poller.Wait(budget)

	if l.metrics != nil {
		l.metrics.iterations.Inc()
	}

	return err
}

// drain runs the batch of tasks returned by take, returning how many ran.
func (l *Loop) drain(take func(*taskQueue, []task) []task) int {
	// a task may re-enter LoopOnce, so the shared buffer is detached
	batch := take(l.tasks, l.taskBuf[:0])
	l.taskBuf = nil
	for i := range batch {
		t := batch[i]
		batch[i] = task{}
		l.runTask(t.run)
	}
	n := len(batch)
	l.taskBuf = batch[:0]
	return n
}

func (l *Loop) runTask(fn func()) {
	if l.metrics == nil {
		l.safeExecute(fn)
		return
	}
	start := time.Now()
	l.safeExecute(fn)
	l.metrics.latency.record(time.Since(start))
	l.metrics.tasksExecuted.Inc()
}

// shutdown is the tail of Loop.
func (l *Loop) shutdown() {
	var ran int
	for {
		n := l.drain((*taskQueue).takeOrClose)
		if n == 0 {
			break
		}
		ran += n
	}

	listeners := l.listeners.take()
	for _, x := range listeners {
		l.safeExecute(x.LoopStopped)
	}

	l.state.Store(StateStopped)

	l.logger.Info().
		Int(`final_tasks`, ran).
		Int(`listeners`, len(listeners)).
		Log(`ioloop: loop stopped`)
}

// safeExecute runs fn, recovering and logging any panic.
func (l *Loop) safeExecute(fn func()) {
	_ = l.catchPanic(fn)
}

// catchPanic runs fn, converting a panic into a PanicError.
func (l *Loop) catchPanic(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if l.metrics != nil {
				l.metrics.panicsRecovered.Inc()
			}
			logPanic(l.logger, `task`, r)
			err = PanicError{Value: r}
		}
	}()
	fn()
	return nil
}

// Stop requests that Loop return after its current iteration. It may be
// called from any goroutine.
func (l *Loop) Stop() {
	if l.stopping.Swap(true) {
		return
	}
	l.logger.Info().
		Log(`ioloop: stop requested`)
	l.Notify()
}

// Notify wakes the loop goroutine, if it is blocked waiting. It may be
// called from any goroutine.
func (l *Loop) Notify() {
	switch l.state.Load() {
	case StateInitialized, StateRunning:
		l.poller.Notify()
	}
}

// Close releases the poller, after which the loop may not be used. Tasks
// still queued (only possible if Loop never ran to completion) are
// discarded, and blocked RunInEventLoopSync callers fail with
// ErrLoopClosed.
//
// Returns ErrLoopRunning if Loop is in progress. Calls after the first
// successful call are no-ops.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if _, ok := l.state.TransitionAny([]LoopState{StateCreated, StateInitialized, StateStopped}, StateClosed); ok {
			break
		}
		switch l.state.Load() {
		case StateClosed:
			return nil
		case StateRunning:
			return ErrLoopRunning
		}
	}

	discarded := l.tasks.close(nil)
	for _, t := range discarded {
		if t.cancel != nil {
			t.cancel(ErrLoopClosed)
		}
	}

	err := l.poller.Close()

	l.logger.Info().
		Int(`discarded_tasks`, len(discarded)).
		Err(err).
		Log(`ioloop: closed`)

	return err
}

// RunInEventLoop runs task inline if called on the loop goroutine,
// otherwise it queues task and wakes the loop.
func (l *Loop) RunInEventLoop(task func()) error {
	if task == nil {
		return ErrInvalidParam
	}
	if l.IsInEventLoopThread() {
		task()
		return nil
	}
	return l.submit(task, nil)
}

// RunInEventLoopSync behaves like RunInEventLoop, but blocks until task has
// run. A panic in task is recovered, and returned as a PanicError.
func (l *Loop) RunInEventLoopSync(task func()) error {
	if task == nil {
		return ErrInvalidParam
	}
	if l.IsInEventLoopThread() {
		return l.catchPanic(task)
	}

	call := newSyncCall()
	if err := l.submit(func() { call.finish(l.catchPanic(task)) }, call.finish); err != nil {
		return err
	}
	return call.wait()
}

// QueueInEventLoop always queues task, even on the loop goroutine, where it
// will run on the next iteration.
func (l *Loop) QueueInEventLoop(task func()) error {
	if task == nil {
		return ErrInvalidParam
	}
	if l.IsInEventLoopThread() {
		return l.tasks.push(newTask(task, nil))
	}
	return l.submit(task, nil)
}

func (l *Loop) submit(run func(), cancel func(err error)) error {
	if err := l.tasks.push(newTask(run, cancel)); err != nil {
		if l.state.Load() == StateClosed {
			return ErrLoopClosed
		}
		return err
	}
	l.Notify()
	return nil
}

func newTask(run func(), cancel func(err error)) task {
	return task{run: run, cancel: cancel}
}

// syncCall is the one-shot handshake behind RunInEventLoopSync.
type syncCall struct {
	cond *sync.Cond
	err  error
	mu   sync.Mutex
	done bool
}

func newSyncCall() *syncCall {
	x := &syncCall{}
	x.cond = sync.NewCond(&x.mu)
	return x
}

func (x *syncCall) finish(err error) {
	x.mu.Lock()
	x.err = err
	x.done = true
	x.mu.Unlock()
	x.cond.Signal()
}

func (x *syncCall) wait() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for !x.done {
		x.cond.Wait()
	}
	return x.err
}

// RegisterFD starts monitoring fd for events, invoking cb on the loop
// goroutine. Registering an fd that is already registered replaces its
// interest and callback.
//
// Called on the loop goroutine, the poller's result is returned. Otherwise,
// the registration is queued, and only a negative fd is reported, any
// later failure being logged.
func (l *Loop) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if fd < 0 {
		return ErrInvalidParam
	}
	if l.IsInEventLoopThread() {
		return l.poller.RegisterFD(fd, events, cb)
	}
	return l.RunInEventLoop(func() {
		if err := l.poller.RegisterFD(fd, events, cb); err != nil {
			l.logger.Err().
				Int(`fd`, fd).
				Stringer(`events`, events).
				Err(err).
				Log(`ioloop: queued register failed`)
		}
	})
}

// UpdateFD changes the interest of a registered fd. See RegisterFD for how
// errors are reported.
func (l *Loop) UpdateFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrInvalidParam
	}
	if l.IsInEventLoopThread() {
		return l.poller.UpdateFD(fd, events)
	}
	return l.RunInEventLoop(func() {
		if err := l.poller.UpdateFD(fd, events); err != nil {
			l.logger.Err().
				Int(`fd`, fd).
				Stringer(`events`, events).
				Err(err).
				Log(`ioloop: queued update failed`)
		}
	})
}

// UnregisterFD stops monitoring fd, and if closeFD is set, closes it. It
// always completes on the loop goroutine before returning, so no callback
// for fd can run after it returns, and the descriptor is never closed
// while a callback for it is in flight.
func (l *Loop) UnregisterFD(fd int, closeFD bool) error {
	if fd < 0 {
		return ErrInvalidParam
	}
	if l.IsInEventLoopThread() {
		return l.unregisterFD(fd, closeFD)
	}
	var err error
	if e := l.RunInEventLoopSync(func() { err = l.unregisterFD(fd, closeFD) }); e != nil {
		return e
	}
	return err
}

func (l *Loop) unregisterFD(fd int, closeIt bool) error {
	err := l.poller.UnregisterFD(fd)
	if closeIt {
		if e := closeFD(fd); e != nil {
			l.logger.Warning().
				Int(`fd`, fd).
				Err(e).
				Log(`ioloop: close failed`)
			err = errors.Join(err, e)
		}
	}
	return err
}

// AddListener registers x to be notified when Loop stops. Adding a listener
// that is already present has no effect. Listeners are compared by
// identity, so a listener whose dynamic type is not comparable (e.g. a
// slice) is ignored, and a warning logged. It may be called from any
// goroutine.
func (l *Loop) AddListener(x Listener) {
	if x == nil {
		return
	}
	if !l.listeners.add(x) {
		l.logger.Warning().
			Str(`listener_type`, fmt.Sprintf(`%T`, x)).
			Log(`ioloop: ignored uncomparable listener`)
	}
}

// RemoveListener removes x, if present. It may be called from any
// goroutine.
func (l *Loop) RemoveListener(x Listener) {
	if x == nil {
		return
	}
	l.listeners.remove(x)
}

// ScheduleTimer runs fn on the loop goroutine after delay. It may be called
// from any goroutine.
//
// Returns ErrTimersUnavailable if the loop was configured with a custom
// TimerManager.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) (*Timer, error) {
	if fn == nil {
		return nil, ErrInvalidParam
	}
	if l.timerHeap == nil {
		return nil, ErrTimersUnavailable
	}
	if delay < 0 {
		delay = 0
	}
	t := &Timer{loop: l, fn: fn, index: -1, when: l.timerHeap.now().Add(delay)}
	if err := l.RunInEventLoop(func() {
		if t.canceled {
			return
		}
		l.timerHeap.push(t)
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// PollType reports the polling backend in use.
func (l *Loop) PollType() PollType { return l.poller.Type() }

// IsPollLevelTriggered reports whether readiness callbacks are
// level-triggered. If not, callbacks must drain their descriptor until it
// would block.
func (l *Loop) IsPollLevelTriggered() bool { return l.poller.IsLevelTriggered() }

// IsInEventLoopThread reports whether the caller is the goroutine that
// called Init.
func (l *Loop) IsInEventLoopThread() bool {
	owner := l.owner.Load()
	return owner != 0 && goroutineID() == owner
}

// State returns the current lifecycle state.
func (l *Loop) State() LoopState { return l.state.Load() }

// Metrics returns a snapshot of the loop's metrics, or nil if they weren't
// enabled with WithMetrics.
func (l *Loop) Metrics() *MetricsSnapshot {
	if l.metrics == nil {
		return nil
	}
	snapshot := l.metrics.snapshot()
	snapshot.QueueDepth = l.tasks.len()
	return snapshot
}
