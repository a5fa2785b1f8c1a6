//go:build linux && amd64

package simulation

import (
	"fmt"
	"log/slog"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
	"github.com/kmrgirish/simcall/simruntime"
)

type waiter struct {
	desc     descriptor.Descriptor
	listener *descriptor.Listener
}

// A Thread runs a Program one syscall at a time. While a call is blocked the
// thread holds a listener, and with it a handler reference, on every
// descriptor in the call's condition. Whichever fires first makes the thread
// runnable; the thread then drops all listeners and retries the call.
type Thread struct {
	simruntime.TaskState

	tid     int
	process *Process
	program Program
	sched   *simruntime.Scheduler
	handler *syscall.Handler

	args   syscallabi.Args
	inCall bool
	last   syscallabi.Return

	waiters []waiter
	exited  bool
}

func (t *Thread) TID() int { return t.tid }

func (t *Thread) Process() *Process { return t.process }

func (t *Thread) Handler() *syscall.Handler { return t.handler }

func (t *Thread) Exited() bool { return t.exited }

func (t *Thread) String() string {
	if !t.handler.Valid() {
		return fmt.Sprintf("%s/%d exited", t.process.host.name, t.tid)
	}
	if nr, ok := t.handler.State().Number(); ok {
		return fmt.Sprintf("%s/%d blocked in %s", t.process.host.name, t.tid, t.process.host.sim.table.Name(nr))
	}
	return fmt.Sprintf("%s/%d", t.process.host.name, t.tid)
}

func (t *Thread) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("host", t.process.host.name),
		slog.Int("tid", t.tid),
	}
}

func (t *Thread) Step() {
	if t.exited {
		return
	}
	t.stopWaiting()

	if !t.inCall {
		args, ok := t.program.Next(t, t.last)
		if !ok {
			t.exit()
			return
		}
		t.args = args
		t.inCall = true
	}

	ret := t.handler.Make(&t.args)
	t.process.host.sim.trace(t, &t.args, ret)
	if ret.Blocked() {
		t.wait(ret.Cond)
		return
	}
	t.inCall = false
	t.last = ret
	t.sched.Ready(t)
}

func (t *Thread) wake(descriptor.Descriptor, descriptor.Status) {
	t.sched.Ready(t)
}

func (t *Thread) wait(cond *syscallabi.Condition) {
	ready := false
	for _, w := range cond.Waits {
		if w.Desc.Status()&w.Mask != 0 {
			ready = true
		}
		l := &descriptor.Listener{Mask: w.Mask, Notify: t.wake}
		w.Desc.AddListener(l)
		t.handler.IncRef()
		t.waiters = append(t.waiters, waiter{desc: w.Desc, listener: l})
	}
	if ready {
		t.sched.Ready(t)
	}
}

func (t *Thread) stopWaiting() {
	for _, w := range t.waiters {
		if w.listener.Registered() {
			w.desc.RemoveListener(w.listener)
		}
		t.handler.DecRef()
	}
	t.waiters = t.waiters[:0]
}

// Kill stops the thread wherever it is, even inside a blocked call.
func (t *Thread) Kill() {
	if !t.exited {
		t.exit()
	}
}

func (t *Thread) exit() {
	t.stopWaiting()
	t.exited = true
	t.sched.Exit(t)
	t.handler.DecRef()
	t.process.threadExited(t)
}
