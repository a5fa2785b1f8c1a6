package descriptor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/simruntime"
)

// A Timer is a one-shot alarm descriptor, like a timerfd. It becomes readable
// when it expires.
type Timer struct {
	Base

	sched       *simruntime.Scheduler
	timer       *simruntime.Timer
	expirations uint64
}

func NewTimer(sched *simruntime.Scheduler) *Timer {
	t := &Timer{sched: sched}
	t.init(t, TypeTimer, StatusActive)
	t.timer = sched.NewStoppedTimer(t.expire, nil, t)
	return t
}

func (t *Timer) expire(*simruntime.Timer) {
	t.expirations++
	t.adjustStatus(StatusReadable, 0)
}

// Arm schedules the timer to expire after d, replacing any earlier arming
// and clearing the expiration count. A zero or negative d expires the timer
// immediately without scheduling anything.
func (t *Timer) Arm(d time.Duration) {
	if t.isClosed() {
		return
	}
	t.timer.Stop()
	t.expirations = 0
	t.adjustStatus(0, StatusReadable)
	if d <= 0 {
		t.expire(nil)
		return
	}
	t.timer.Reset(t.sched.Now() + int64(d))
}

// Disarm cancels a pending expiry. Expirations that already happened are
// kept.
func (t *Timer) Disarm() {
	t.timer.Stop()
}

// Reset disarms the timer and forgets past expirations.
func (t *Timer) Reset() {
	t.timer.Stop()
	t.expirations = 0
	t.adjustStatus(0, StatusReadable)
}

// Pending reports whether the timer is armed and has not fired yet.
func (t *Timer) Pending() bool {
	return t.timer.Pending()
}

// Expirations returns how often the timer fired since it was last armed.
func (t *Timer) Expirations() uint64 {
	return t.expirations
}

// Remaining returns the simulated time left until expiry, or 0 if the timer
// is not pending.
func (t *Timer) Remaining() time.Duration {
	if !t.timer.Pending() {
		return 0
	}
	return time.Duration(t.timer.When() - t.sched.Now())
}

// Read consumes the expiration count like read(2) on a timerfd.
func (t *Timer) Read(into []byte) (int, error) {
	if t.isClosed() {
		return 0, unix.EBADF
	}
	if len(into) < 8 {
		return 0, unix.EINVAL
	}
	if t.expirations == 0 {
		return 0, unix.EAGAIN
	}
	for i := 0; i < 8; i++ {
		into[i] = byte(t.expirations >> (8 * i))
	}
	t.expirations = 0
	t.adjustStatus(0, StatusReadable)
	return 8, nil
}

func (t *Timer) Close() error {
	if t.isClosed() {
		return unix.EBADF
	}
	t.timer.Stop()
	t.adjustStatus(StatusClosed, StatusActive|StatusReadable)
	return nil
}
