package event

import (
	"sort"
	"sync"
	"time"
)

// Timer is the subset of *time.Timer the throttle needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so throttling can be tested deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Throttle rate-limits a burst of calls: the first call runs immediately
// (leading edge), later calls inside the interval are collapsed into one
// trailing call carrying the most recent payload, so the final event of a
// burst is never dropped.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	clock    Clock
	last     time.Time
	fired    bool
	pending  func()
	timer    Timer
}

// NewThrottle creates a throttle. A nil clock uses SystemClock.
func NewThrottle(interval time.Duration, clock Clock) *Throttle {
	if clock == nil {
		clock = SystemClock
	}
	return &Throttle{interval: interval, clock: clock}
}

// Do runs fn now or schedules it as the trailing call.
func (t *Throttle) Do(fn func()) {
	t.mu.Lock()
	now := t.clock.Now()
	if t.interval <= 0 || !t.fired || now.Sub(t.last) >= t.interval {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.pending = nil
		t.last = now
		t.fired = true
		t.mu.Unlock()
		fn()
		return
	}

	t.pending = fn
	if t.timer == nil {
		wait := t.interval - now.Sub(t.last)
		t.timer = t.clock.AfterFunc(wait, t.fireTrailing)
	}
	t.mu.Unlock()
}

func (t *Throttle) fireTrailing() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.timer = nil
	if fn != nil {
		t.last = t.clock.Now()
	}
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Flush runs a pending trailing call immediately.
func (t *Throttle) Flush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.fireTrailing()
}

// Cancel drops a pending trailing call.
func (t *Throttle) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
}

// Pending reports whether a trailing call is scheduled.
func (t *Throttle) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// ManualClock is a Clock that only moves when Advance is called. Timers
// fire synchronously inside Advance, in deadline order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Time
	fn       func()
	stopped  bool
}

// NewManualClock creates a clock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	tm := &manualTimer{clock: c, deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, tm)
	return tm
}

func (tm *manualTimer) Stop() bool {
	tm.clock.mu.Lock()
	defer tm.clock.mu.Unlock()
	was := !tm.stopped
	tm.stopped = true
	return was
}

// Advance moves the clock forward and fires due timers.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due, keep []*manualTimer
	for _, tm := range c.timers {
		switch {
		case tm.stopped:
		case !tm.deadline.After(now):
			due = append(due, tm)
		default:
			keep = append(keep, tm)
		}
	}
	c.timers = keep
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, tm := range due {
		c.mu.Lock()
		stopped := tm.stopped
		tm.stopped = true
		c.mu.Unlock()
		if !stopped {
			tm.fn()
		}
	}
}
