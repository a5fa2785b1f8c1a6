package simruntime

import (
	"time"
)

// Epoch is the simulated wall-clock time every simulation starts at.
var Epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	now  int64 // unix nsec
	heap *timerHeap
}

func newClock() *clock {
	return &clock{
		now:  Epoch.UnixNano(),
		heap: newTimerHeap(),
	}
}

func (c *clock) anyWaiting() bool {
	return c.heap.len() > 0
}

func (c *clock) next() int64 {
	return c.heap.peek().when
}

func (c *clock) maybefire() (*Timer, bool) {
	if c.heap.len() == 0 {
		return nil, false
	}
	if c.heap.peek().when <= c.now {
		return c.heap.pop(), true
	}
	return nil, false
}

func (c *clock) doadvance() {
	t := c.heap.peek().when
	if t <= c.now {
		panic("bad")
	}
	// timers scheduled at now or earlier fire without moving the clock
	c.now = t
}

// A Timer calls its handler on the scheduler loop once the simulated clock
// reaches its deadline. A Timer is one-shot; Reset schedules it again.
type Timer struct {
	when    int64
	seq     uint64
	handler func(t *Timer)
	Arg     any
	// Owner groups timers that are dropped together by Scheduler.StopOwner.
	Owner any

	clock *clock
	pos   int
}

// NewTimer schedules handler to run at the absolute simulated time when.
// Deadlines in the past fire on the next loop iteration.
func (s *Scheduler) NewTimer(handler func(t *Timer), arg any, owner any, when int64) *Timer {
	t := s.NewStoppedTimer(handler, arg, owner)
	t.when = when
	s.clock.heap.add(t)
	return t
}

// NewStoppedTimer returns a timer that is not scheduled. Use Reset to arm it.
func (s *Scheduler) NewStoppedTimer(handler func(t *Timer), arg any, owner any) *Timer {
	return &Timer{
		handler: handler,
		Arg:     arg,
		Owner:   owner,
		clock:   s.clock,
		pos:     -1,
	}
}

// AfterFunc runs fn on the scheduler loop after the simulated duration d.
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) *Timer {
	return s.NewTimer(func(*Timer) { fn() }, nil, nil, s.clock.now+int64(d))
}

// Reset changes the deadline of t, scheduling it if it was not pending. It
// reports whether t was pending.
func (t *Timer) Reset(when int64) bool {
	pending := t.pos != -1
	if pending {
		t.clock.heap.adjust(t, when)
	} else {
		t.when = when
		t.clock.heap.add(t)
	}
	return pending
}

// Stop cancels t. It reports whether t was pending.
func (t *Timer) Stop() bool {
	pending := t.pos != -1
	if pending {
		t.clock.heap.remove(t)
	}
	return pending
}

// Pending reports whether t is scheduled and has not fired.
func (t *Timer) Pending() bool {
	return t.pos != -1
}

// When returns the last deadline t was scheduled for.
func (t *Timer) When() int64 {
	return t.when
}
