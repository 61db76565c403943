package ioloop

import (
	"sync"

	"github.com/joeycumines/logiface"
)

// testEvent is a minimal logiface.Event implementation, recording fields.
type testEvent struct {
	logiface.UnimplementedEvent
	fields map[string]any
	msg    string
	level  logiface.Level
}

func (e *testEvent) Level() logiface.Level { return e.level }

func (e *testEvent) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	e.fields[key] = val
}

func (e *testEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

// testEventFactory creates testEvent instances.
type testEventFactory struct{}

func (testEventFactory) NewEvent(level logiface.Level) *testEvent {
	return &testEvent{level: level}
}

// testEventWriter collects written events.
type testEventWriter struct {
	mu     sync.Mutex
	events []*testEvent
}

func (w *testEventWriter) Write(event *testEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}

// find returns the events logged at level with message msg.
func (w *testEventWriter) find(level logiface.Level, msg string) (found []*testEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.events {
		if e.level == level && e.msg == msg {
			found = append(found, e)
		}
	}
	return
}

func newTestLogger() (*logiface.Logger[logiface.Event], *testEventWriter) {
	w := &testEventWriter{}
	logger := logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](testEventFactory{}),
		logiface.WithWriter[*testEvent](w),
		logiface.WithLevel[*testEvent](logiface.LevelDebug),
	)
	return logger.Logger(), w
}
