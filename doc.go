// Package ioloop provides a goroutine-affine I/O event loop (reactor), which
// multiplexes readiness of OS descriptors, timers, and tasks submitted from
// other goroutines, on a single owning goroutine.
//
// # Architecture
//
// A [Loop] is built from three collaborators:
//   - a [Poller], wrapping one OS readiness facility, and dispatching
//     [IOCallback] values inline as descriptors become ready
//   - a [TimerManager], which bounds how long each iteration may block
//   - a task queue, woken via a Notifier (eventfd on Linux, a self-pipe on
//     Darwin) registered with the poller
//
// Each iteration ([Loop.LoopOnce]) runs the queued tasks, fires due timers,
// then waits for readiness for at most the time until the next timer,
// clamped to the caller's maximum.
//
// # Platform Support
//
//   - Linux: epoll (edge-triggered, the default) or poll(2)
//   - macOS: poll(2) (level-triggered)
//
// With edge-triggered polling ([Loop.IsPollLevelTriggered] returns false),
// a callback is invoked once per transition into the ready state, and must
// read or write until the descriptor would block (EAGAIN), or it may not be
// notified again.
//
// # Thread Safety
//
// The goroutine that calls [Loop.Init] owns the loop. Only the owner may
// call [Loop.Loop] or [Loop.LoopOnce]. Everything else may be called from
// any goroutine:
//   - [Loop.RunInEventLoop] runs inline on the owner, and queues otherwise
//   - [Loop.RunInEventLoopSync] additionally blocks until the task has run
//   - [Loop.QueueInEventLoop] always queues
//   - [Loop.RegisterFD], [Loop.UpdateFD], and [Loop.UnregisterFD] are
//     marshalled onto the owner as necessary
//
// # Usage
//
//	loop, err := ioloop.New(ioloop.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	if err := loop.Init(); err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = loop.RegisterFD(fd, ioloop.EventRead, func(events ioloop.IOEvents) {
//	    // read until EAGAIN
//	})
//
//	go func() {
//	    <-ctx.Done()
//	    loop.Stop()
//	}()
//
//	if err := loop.Loop(-1); err != nil {
//	    log.Fatal(err)
//	}
package ioloop
