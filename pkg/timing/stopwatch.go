// Package timing implements the frame stopwatch used to reproduce or reshape
// inter-frame gaps.
package timing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInterrupted is returned when a delay is cut short by its context. Callers
// treat it as an early stop, not as a fault.
var ErrInterrupted = errors.New("netpcap: delay interrupted")

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep blocks the calling goroutine for d. It returns ErrInterrupted if ctx is
// done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return interrupted(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}

func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return nil
}

// Option configures a Stopwatch.
type Option func(*Stopwatch)

// WithClock replaces the wall clock and sleeper, for tests.
func WithClock(now func() time.Time, sleep SleepFunc) Option {
	return func(s *Stopwatch) {
		s.now = now
		s.sleep = sleep
	}
}

// Stopwatch measures the real time between frames and applies inter-frame gap
// delays relative to the end of the previous frame. It is not safe for
// concurrent use; it lives on the dispatch goroutine.
type Stopwatch struct {
	now   func() time.Time
	sleep SleepFunc

	hasRef  bool
	lastEnd time.Time

	frameTs int64
	delay   time.Duration
	slept   time.Duration
	scope   Scope
}

// New creates a stopwatch with no pacing reference.
func New(opts ...Option) *Stopwatch {
	s := &Stopwatch{now: time.Now, sleep: Sleep}
	for _, o := range opts {
		o(s)
	}
	s.scope.sw = s
	return s
}

// Scope is one measured frame interval. Close marks its end.
type Scope struct {
	sw *Stopwatch
}

// Close marks the end of the interval; the next DelayIfg is measured from here.
func (sc *Scope) Close() {
	sc.sw.lastEnd = sc.sw.now()
	sc.sw.hasRef = true
}

// Start begins measuring the interval of a frame whose header carries tsNanos.
// The returned scope is owned by the stopwatch and must be closed before the
// next Start.
func (s *Stopwatch) Start(tsNanos int64) *Scope {
	s.frameTs = tsNanos
	s.delay = 0
	return &s.scope
}

// DelayIfg blocks until target has passed since the previous frame ended, or
// for target itself when there is no previous frame.
func (s *Stopwatch) DelayIfg(ctx context.Context, target time.Duration) error {
	start := s.now()
	ref := start
	wait := target
	if s.hasRef {
		ref = s.lastEnd
		wait = target - start.Sub(ref)
	}

	var err error
	if wait > 0 {
		err = s.sleep(ctx, wait)
		s.slept += min(s.now().Sub(start), wait)
	} else {
		err = interrupted(ctx)
	}

	s.delay = s.now().Sub(ref)
	return err
}

// Sleep blocks for d using the stopwatch's sleeper and counts it towards Slept.
// It does not touch the pacing reference.
func (s *Stopwatch) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return interrupted(ctx)
	}
	start := s.now()
	err := s.sleep(ctx, d)
	s.slept += min(s.now().Sub(start), d)
	return err
}

// Now reads the stopwatch's clock.
func (s *Stopwatch) Now() time.Time { return s.now() }

// NewTsNanos is the timestamp a rewritten header should carry: the frame's own
// timestamp advanced by the delay actually observed.
func (s *Stopwatch) NewTsNanos() int64 {
	return s.frameTs + int64(s.delay)
}

// Delay is the gap observed by the last DelayIfg of the current interval.
func (s *Stopwatch) Delay() time.Duration { return s.delay }

// Slept is the total time actually spent sleeping since creation or Reset.
// Interrupted sleeps count only up to the interruption.
func (s *Stopwatch) Slept() time.Duration { return s.slept }

// Reset drops the pacing reference.
func (s *Stopwatch) Reset() {
	s.hasRef = false
	s.lastEnd = time.Time{}
	s.frameTs = 0
	s.delay = 0
	s.slept = 0
}
