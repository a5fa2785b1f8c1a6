//go:build linux && amd64

package simulation

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
)

// An Event is one syscall outcome as seen by a thread.
type Event struct {
	Seq     int
	Elapsed time.Duration
	Host    string
	PID     int
	TID     int
	Syscall string
	Number  uintptr
	Outcome string
	Value   int64
	Errno   string
}

const (
	OutcomeDone    = "done"
	OutcomeError   = "error"
	OutcomeBlocked = "blocked"
)

func (e Event) String() string {
	switch e.Outcome {
	case OutcomeBlocked:
		return fmt.Sprintf("%v %s/%d %s blocked", e.Elapsed, e.Host, e.TID, e.Syscall)
	case OutcomeError:
		return fmt.Sprintf("%v %s/%d %s = -1 %s", e.Elapsed, e.Host, e.TID, e.Syscall, e.Errno)
	default:
		return fmt.Sprintf("%v %s/%d %s = %d", e.Elapsed, e.Host, e.TID, e.Syscall, e.Value)
	}
}

// A Tracer receives every syscall outcome in simulation order.
type Tracer interface {
	Trace(e Event)
}

type TracerFunc func(e Event)

func (f TracerFunc) Trace(e Event) { f(e) }

func (s *Simulation) trace(t *Thread, args *syscallabi.Args, ret syscallabi.Return) {
	s.eventSeq++
	e := Event{
		Seq:     s.eventSeq,
		Elapsed: s.sched.Elapsed(),
		Host:    t.process.host.name,
		PID:     t.process.pid,
		TID:     t.tid,
		Syscall: s.table.Name(args.Number),
		Number:  args.Number,
		Value:   ret.Value,
	}
	switch {
	case ret.Blocked():
		e.Outcome = OutcomeBlocked
	case ret.Errno != 0:
		e.Outcome = OutcomeError
		e.Errno = unix.ErrnoName(ret.Errno)
	default:
		e.Outcome = OutcomeDone
	}

	s.sched.Record(fmt.Appendf(nil, "%d %d %d %s %d %s", e.Elapsed, t.tid, e.Number, e.Outcome, e.Value, e.Errno))
	if s.tracer != nil {
		s.tracer.Trace(e)
	}
}
