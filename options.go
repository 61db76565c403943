// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioloop

import (
	"time"

	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger         *logiface.Logger[logiface.Event]
	timers         TimerManager
	pollErrorRates map[time.Duration]int
	pollType       PollType
	metricsEnabled bool
}

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithPollType requests a polling backend. Unavailable backends (including
// PollSelect) fall back to the platform default, which is also what
// PollNone, the default, selects.
func WithPollType(pollType PollType) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.pollType = pollType
		return nil
	}}
}

// WithLogger configures structured logging. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithTimerManager replaces the built-in timer heap, which also disables
// Loop.ScheduleTimer.
func WithTimerManager(timers TimerManager) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if timers == nil {
			return ErrInvalidParam
		}
		opts.timers = timers
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Loop.
// When enabled, metrics can be accessed via Loop.Metrics().
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithPollErrorRates overrides how often failures of the blocking wait are
// logged, per errno, as a map of window to maximum count. Longer windows
// must allow more events, at a lower rate, than shorter ones.
func WithPollErrorRates(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if err := validatePollErrorRates(rates); err != nil {
			return err
		}
		opts.pollErrorRates = rates
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		pollErrorRates: defaultPollErrorRates,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
