// Package syscallabi holds the calling convention between simulated threads
// and syscall implementations: raw arguments, tagged outcomes, errno
// conversion and access to simulated process memory.
package syscallabi

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
)

// Args holds the number and raw arguments of one syscall invocation. A thread
// resumes a blocked call by passing the same Args again.
type Args struct {
	Number uintptr

	Int0, Int1, Int2, Int3, Int4, Int5 uintptr
}

func (a *Args) String() string {
	return fmt.Sprintf("%d(%#x, %#x, %#x, %#x, %#x, %#x)", a.Number, a.Int0, a.Int1, a.Int2, a.Int3, a.Int4, a.Int5)
}

// State tags the outcome of a syscall implementation.
type State int

const (
	StateDone State = iota
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Return is the outcome of a syscall implementation. A done call carries
// either a value or an errno; a blocked call carries the condition the thread
// waits for before the call is retried.
type Return struct {
	State State
	Value int64
	Errno unix.Errno
	Cond  *Condition
}

func Done(value int64) Return {
	return Return{State: StateDone, Value: value}
}

func Fail(errno unix.Errno) Return {
	return Return{State: StateDone, Value: -1, Errno: errno}
}

// FailErr completes a call with the errno carried by err.
func FailErr(err error) Return {
	return Fail(ErrErrno(err))
}

// Block parks the calling thread until cond is met.
func Block(cond *Condition) Return {
	if cond == nil {
		cond = &Condition{}
	}
	return Return{State: StateBlocked, Cond: cond}
}

func (r Return) Blocked() bool {
	return r.State == StateBlocked
}

// Err returns the errno of a failed call as an error, or nil.
func (r Return) Err() error {
	return ErrnoErr(r.Errno)
}

func (r Return) String() string {
	switch {
	case r.Blocked():
		return "blocked"
	case r.Errno != 0:
		return fmt.Sprintf("-1 %s", unix.ErrnoName(r.Errno))
	default:
		return fmt.Sprint(r.Value)
	}
}

// A Wait names a descriptor and the status bits that end the wait.
type Wait struct {
	Desc descriptor.Descriptor
	Mask descriptor.Status
}

// A Condition lists what a blocked call waits for. The call is retried as
// soon as any one wait is satisfied. An empty Condition waits only for the
// handler's timeout.
type Condition struct {
	Waits []Wait
}

func NewCondition(waits ...Wait) *Condition {
	return &Condition{Waits: waits}
}

func (c *Condition) Add(d descriptor.Descriptor, mask descriptor.Status) {
	c.Waits = append(c.Waits, Wait{Desc: d, Mask: mask})
}

// BoolToUintptr stores a boolean as a uintptr for syscall arguments
// or return values.
func BoolToUintptr(v bool) uintptr {
	if v {
		return 1
	}
	return 0
}

// BoolFromUintptr extracts a boolean stored as a uintptr for syscall
// arguments or return values.
func BoolFromUintptr(v uintptr) bool {
	return v != 0
}
