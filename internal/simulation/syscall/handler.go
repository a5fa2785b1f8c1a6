// Package syscall is the per-thread syscall handler: the state machine that
// lets syscall implementations block a simulated thread and resume it later,
// the timeout each blocking episode may arm, descriptor validation and the
// dispatch table implementations are registered in.
//
// A blocked call does not block anything real. The implementation returns a
// blocked outcome, the thread parks on the returned condition, and when the
// condition or the timeout fires the thread invokes Make again with the same
// arguments.
package syscall

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
	"github.com/kmrgirish/simcall/simruntime"
)

// Host is the simulated machine a handler's thread runs on.
type Host interface {
	Name() string
	ID() int
	Scheduler() *simruntime.Scheduler
}

// Process owns the memory and descriptors a handler's calls operate on.
type Process interface {
	PID() int
	Memory() syscallabi.Memory
	Descriptors() *descriptor.Table
}

type Thread interface {
	TID() int
}

// BlockState records which syscall, if any, a handler is blocked in.
type BlockState struct {
	nr      uintptr
	blocked bool
}

var Idle = BlockState{}

func Blocked(nr uintptr) BlockState {
	return BlockState{nr: nr, blocked: true}
}

// Number returns the blocked syscall number.
func (s BlockState) Number() (uintptr, bool) {
	return s.nr, s.blocked
}

func (s BlockState) String() string {
	if !s.blocked {
		return "idle"
	}
	return fmt.Sprintf("blocked(%d)", s.nr)
}

// A Handler carries the syscall state of one simulated thread. New returns a
// handler holding one reference for the thread; anything that keeps the
// handler across a suspension point takes its own with IncRef and releases it
// with DecRef. The last DecRef destroys the handler.
type Handler struct {
	host    Host
	process Process
	thread  Thread
	table   *Table

	// timer bounds blocking episodes. Only the handler arms or reads it.
	timer *descriptor.Timer
	state BlockState

	refs  atomic.Int32
	valid bool

	logger *slog.Logger
}

func New(host Host, process Process, thread Thread, table *Table) *Handler {
	if host == nil || process == nil || thread == nil || table == nil {
		panic("syscall handler needs a host, process, thread and table")
	}
	h := &Handler{
		host:    host,
		process: process,
		thread:  thread,
		table:   table,
		timer:   descriptor.NewTimer(host.Scheduler()),
		valid:   true,
		logger:  host.Scheduler().Logger(),
	}
	h.refs.Store(1)
	return h
}

func (h *Handler) check(op string) {
	if !h.valid {
		panic(&ProtocolViolation{Op: op, Reason: "handler used after destruction"})
	}
}

func (h *Handler) Host() Host {
	h.check("Host")
	return h.host
}

func (h *Handler) Process() Process {
	h.check("Process")
	return h.process
}

func (h *Handler) Thread() Thread {
	h.check("Thread")
	return h.thread
}

// Now returns the simulated time in unix nanoseconds.
func (h *Handler) Now() int64 {
	h.check("Now")
	return h.host.Scheduler().Now()
}

// IncRef adds a reference.
func (h *Handler) IncRef() {
	h.check("IncRef")
	h.refs.Add(1)
}

// DecRef drops a reference and destroys the handler when it was the last.
func (h *Handler) DecRef() {
	h.check("DecRef")
	switch n := h.refs.Add(-1); {
	case n == 0:
		h.destroy()
	case n < 0:
		panic(&ProtocolViolation{Op: "DecRef", Reason: "reference count below zero"})
	}
}

// Refs returns the number of outstanding references.
func (h *Handler) Refs() int {
	return int(h.refs.Load())
}

// Valid reports whether the handler has not been destroyed yet.
func (h *Handler) Valid() bool {
	return h.valid
}

func (h *Handler) destroy() {
	h.timer.Close()
	h.valid = false
	h.host, h.process, h.thread = nil, nil, nil
}

// State returns the current block state.
func (h *Handler) State() BlockState {
	h.check("State")
	return h.state
}

// WasBlocked reports whether the handler is blocked in some syscall. Inside
// an implementation it tells a resumed call from a first attempt.
func (h *Handler) WasBlocked() bool {
	h.check("WasBlocked")
	return h.state.blocked
}

// SetListenTimeout arms the timeout for the current blocking episode,
// replacing any earlier arming. A nil timeout disarms it. A zero or negative
// timeout counts as already expired.
func (h *Handler) SetListenTimeout(timeout *unix.Timespec) {
	h.check("SetListenTimeout")
	if timeout == nil {
		h.timer.Disarm()
		return
	}
	h.timer.Arm(time.Duration(timeout.Nano()))
}

// SetListenTimeoutMillis is SetListenTimeout for a millisecond count. A
// negative count disarms the timeout and zero expires it immediately, like
// the timeout of poll(2).
func (h *Handler) SetListenTimeoutMillis(ms int) {
	h.check("SetListenTimeoutMillis")
	if ms < 0 {
		h.SetListenTimeout(nil)
		return
	}
	ts := unix.NsecToTimespec(int64(ms) * int64(time.Millisecond))
	h.SetListenTimeout(&ts)
}

// IsListenTimeoutPending reports whether the timeout is armed and has not
// fired.
func (h *Handler) IsListenTimeoutPending() bool {
	h.check("IsListenTimeoutPending")
	return h.timer.Pending()
}

// DidListenTimeoutExpire reports whether the timeout fired since it was last
// armed.
func (h *Handler) DidListenTimeoutExpire() bool {
	h.check("DidListenTimeoutExpire")
	return h.timer.Expirations() > 0
}

// ListenTimeoutRemaining returns how long until the timeout fires, or 0.
func (h *Handler) ListenTimeoutRemaining() time.Duration {
	h.check("ListenTimeoutRemaining")
	return h.timer.Remaining()
}

// Make runs the syscall described by args. It is the only way in and out of
// the blocked state: a call that returns a blocked outcome is recorded, and
// while blocked the handler only accepts the same syscall number again.
// Breaking that rule is a protocol violation and panics.
func (h *Handler) Make(args *syscallabi.Args) syscallabi.Return {
	h.check("Make")

	if nr, blocked := h.state.Number(); blocked && nr != args.Number {
		panic(&ProtocolViolation{
			Op:     "Make",
			Reason: fmt.Sprintf("resumed syscall %d while blocked in %d", args.Number, nr),
		})
	}

	sc := h.table.Lookup(args.Number)
	if sc == nil {
		h.logger.Warn("unsupported syscall", "nr", args.Number)
		h.complete()
		return syscallabi.Fail(unix.ENOSYS)
	}

	ret := sc.Fn(h, args)
	if !h.valid {
		panic(&ProtocolViolation{Op: sc.Name, Reason: "handler destroyed during syscall"})
	}

	if ret.Blocked() {
		h.block(args.Number)
		if h.timer.Pending() || h.timer.Expirations() > 0 {
			ret.Cond.Add(h.timer, descriptor.StatusReadable)
		}
		h.logger.Debug("syscall blocked", "syscall", sc.Name, "timeout", h.timer.Remaining())
		return ret
	}

	h.complete()
	h.logger.Debug("syscall", "syscall", sc.Name, "ret", ret.String())
	return ret
}

func (h *Handler) block(nr uintptr) {
	if cur, blocked := h.state.Number(); blocked && cur != nr {
		panic(&ProtocolViolation{
			Op:     "block",
			Reason: fmt.Sprintf("blocking in %d while already blocked in %d", nr, cur),
		})
	}
	h.state = Blocked(nr)
}

func (h *Handler) complete() {
	h.state = Idle
	h.timer.Reset()
}
