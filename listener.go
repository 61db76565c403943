package ioloop

import (
	"reflect"
	"slices"
	"sync"
)

// Listener is notified once, after the loop's final iteration and drain.
type Listener interface {
	LoopStopped()
}

// listenerSet holds listeners in registration order, compared by identity.
type listenerSet struct {
	mu        sync.Mutex
	listeners []Listener
}

// add appends l unless it is already present, returning false if l cannot
// be compared by identity.
func (x *listenerSet) add(l Listener) bool {
	if !comparableListener(l) {
		return false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if !slices.Contains(x.listeners, l) {
		x.listeners = append(x.listeners, l)
	}
	return true
}

func (x *listenerSet) remove(l Listener) {
	if !comparableListener(l) {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if i := slices.Index(x.listeners, l); i >= 0 {
		x.listeners = slices.Delete(x.listeners, i, i+1)
	}
}

// take clears the set, returning what it held.
func (x *listenerSet) take() []Listener {
	x.mu.Lock()
	defer x.mu.Unlock()
	listeners := x.listeners
	x.listeners = nil
	return listeners
}

func (x *listenerSet) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.listeners)
}

func comparableListener(l Listener) bool {
	return reflect.TypeOf(l).Comparable()
}
