// Copyright 2026 skyhoshi
// SPDX-License-Identifier: Apache-2.0

package reverseproxy

import (
	"sync"
	"time"
)

// Clock is an injectable source of monotonic time, expressed as a tick
// count and the tick frequency (ticks per second). Production code uses
// realClock; tests use ManualClock so window and reactivation math can be
// exercised without sleeping.
type Clock interface {
	// Now returns the current tick count and the number of ticks per
	// second (the frequency). Callers convert a duration to ticks via
	// duration.Seconds() * freq.
	Now() (ticks int64, freq int64)

	// AfterFunc schedules f to run once d has elapsed on this clock, and
	// returns a cancel function that prevents f from running if called
	// before then. On realClock this is a thin wrapper over
	// time.AfterFunc; on ManualClock, f only runs when Advance or Set
	// brings the clock's ticks to or past the target, so reactivation timing can
	// be driven deterministically in tests.
	AfterFunc(d time.Duration, f func()) (cancel func())
}

// realFreq is high enough that sub-millisecond event ordering within the
// SlidingCounter's one-second coalescing window is still resolved correctly.
const realFreq = int64(time.Second / time.Nanosecond)

// realClock reports elapsed ticks since start via time.Since, which uses
// the monotonic clock reading carried on both start and the Now() call it
// makes internally — never the wall clock, so an NTP step or manual clock
// change can't corrupt window or reactivation math. UnixNano() would
// discard that monotonic reading and use wall-clock time instead, which is
// exactly what this type exists to avoid.
type realClock struct {
	start time.Time
}

// NewClock returns the production Clock, backed by the monotonic reading
// time.Now() captures at construction.
func NewClock() Clock { return &realClock{start: time.Now()} }

func (c *realClock) Now() (int64, int64) {
	return int64(time.Since(c.start)), realFreq
}

func (c *realClock) AfterFunc(d time.Duration, f func()) (cancel func()) {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// manualTimer is one pending ManualClock.AfterFunc callback.
type manualTimer struct {
	target   int64
	f        func()
	fired    bool
	canceled bool
}

// ManualClock is a Clock that only advances when told to. It exists so
// tests can assert exact SlidingCounter and reactivation-timer behavior at
// specific instants without sleeping.
type ManualClock struct {
	mu     sync.Mutex
	ticks  int64
	freq   int64
	timers []*manualTimer
}

// NewManualClock creates a ManualClock starting at tick 0 with the given
// frequency (ticks per second).
func NewManualClock(freq int64) *ManualClock {
	return &ManualClock{freq: freq}
}

func (c *ManualClock) Now() (int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks, c.freq
}

// Advance moves the clock forward by d, then runs any AfterFunc callbacks
// whose target tick has now been reached.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.ticks += int64(d.Seconds() * float64(c.freq))
	c.mu.Unlock()
	c.fireDue()
}

// Set pins the clock to an absolute tick count, then runs any AfterFunc
// callbacks whose target tick has now been reached.
func (c *ManualClock) Set(ticks int64) {
	c.mu.Lock()
	c.ticks = ticks
	c.mu.Unlock()
	c.fireDue()
}

// AfterFunc registers f to run the next time Advance or Set reaches d's
// target tick. The returned cancel function is safe to call at any time,
// including from within f itself.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) (cancel func()) {
	c.mu.Lock()
	t := &manualTimer{target: c.ticks + int64(d.Seconds()*float64(c.freq)), f: f}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		t.canceled = true
		c.mu.Unlock()
	}
}

// fireDue runs, outside the lock, every registered callback whose target
// tick has been reached and that hasn't already fired or been canceled.
func (c *ManualClock) fireDue() {
	c.mu.Lock()
	now := c.ticks
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.fired && !t.canceled && now >= t.target {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}
