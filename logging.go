package ioloop

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"syscall"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// defaultPollErrorRates bounds how often a recurring poll failure is logged,
// per errno.
var defaultPollErrorRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// pollErrorLog logs failures of the blocking wait call. The loop carries on
// regardless, so a persistent failure (e.g. a broken polling context) would
// otherwise emit a log line per iteration.
type pollErrorLog struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	count   func()
}

func newPollErrorLog(logger *logiface.Logger[logiface.Event], rates map[time.Duration]int) *pollErrorLog {
	x := &pollErrorLog{logger: logger}
	if logger != nil {
		x.limiter = catrate.NewLimiter(rates)
	}
	return x
}

// record logs err, unless the errno has been logged too often recently.
func (x *pollErrorLog) record(backend PollType, err error) {
	if x == nil {
		return
	}
	if x.count != nil {
		x.count()
	}
	if x.limiter == nil {
		return
	}
	var category any = err.Error()
	var errno syscall.Errno
	if errors.As(err, &errno) {
		category = errno
	}
	if _, ok := x.limiter.Allow(category); !ok {
		return
	}
	x.logger.Err().
		Err(err).
		Stringer(`poll_type`, backend).
		Str(`category`, `poll`).
		Log(`ioloop: wait failed`)
}

// validatePollErrorRates applies the same rules as catrate.NewLimiter,
// without panicking: each window must allow more events than any shorter
// window, at a lower effective rate.
func validatePollErrorRates(rates map[time.Duration]int) error {
	if len(rates) == 0 {
		return fmt.Errorf("%w: empty poll error rates", ErrInvalidParam)
	}
	durations := slices.Sorted(maps.Keys(rates))
	for i, d := range durations {
		n := rates[d]
		if d <= 0 || n <= 0 {
			return fmt.Errorf("%w: poll error rate %v: %d", ErrInvalidParam, d, n)
		}
		if i == 0 {
			continue
		}
		prev := durations[i-1]
		if n <= rates[prev] || float64(n)/float64(d) >= float64(rates[prev])/float64(prev) {
			return fmt.Errorf("%w: poll error rate %v: %d is redundant with %v: %d", ErrInvalidParam, d, n, prev, rates[prev])
		}
	}
	return nil
}

// logPanic logs a recovered task panic.
func logPanic(logger *logiface.Logger[logiface.Event], category string, r any) {
	logger.Err().
		Str(`category`, category).
		Str(`panic`, fmt.Sprint(r)).
		Log(`ioloop: recovered panic`)
}
