//go:build linux && amd64

package simulation

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
)

// A Program decides which syscall a thread makes next. Next receives the
// outcome of the previous call (the zero Return before the first) and
// returns false once the thread should exit.
type Program interface {
	Next(t *Thread, last syscallabi.Return) (syscallabi.Args, bool)
}

type ProgramFunc func(t *Thread, last syscallabi.Return) (syscallabi.Args, bool)

func (f ProgramFunc) Next(t *Thread, last syscallabi.Return) (syscallabi.Args, bool) {
	return f(t, last)
}

type OpKind string

const (
	OpSleep   OpKind = "sleep"
	OpRead    OpKind = "read"
	OpWrite   OpKind = "write"
	OpRecv    OpKind = "recv"
	OpSend    OpKind = "send"
	OpPoll    OpKind = "poll"
	OpClose   OpKind = "close"
	OpGettime OpKind = "gettime"
	OpGetpid  OpKind = "getpid"
	OpGettid  OpKind = "gettid"
)

// An Op is one step of a Script. Which fields matter depends on Kind.
type Op struct {
	Kind OpKind

	FD  int
	FDs []int

	Data []byte
	Size int

	Duration time.Duration
	// Timeout is the poll timeout in milliseconds; negative waits forever.
	Timeout int
	// Events are the poll events requested for every fd in FDs.
	Events int16

	DontWait bool
	Clock    int
}

// A Result is the outcome of one completed Script op.
type Result struct {
	Op     Op
	Return syscallabi.Return
	// Data holds bytes read by read and recv.
	Data []byte
	// Time holds the nanoseconds returned by gettime.
	Time int64
}

// A Script is a Program that runs a fixed list of ops in order and records
// their results.
type Script struct {
	ops     []Op
	pc      int
	pending *pendingOp
	results []Result
}

type pendingOp struct {
	op   Op
	addr uintptr
}

func NewScript(ops ...Op) *Script {
	return &Script{ops: ops}
}

func (s *Script) Results() []Result {
	return s.results
}

// Done reports whether every op has completed.
func (s *Script) Done() bool {
	return s.pc >= len(s.ops) && s.pending == nil
}

// Received returns everything read or received so far, concatenated.
func (s *Script) Received() []byte {
	var out []byte
	for _, r := range s.results {
		out = append(out, r.Data...)
	}
	return out
}

func (s *Script) Next(t *Thread, last syscallabi.Return) (syscallabi.Args, bool) {
	mem := t.Process().Arena()
	if s.pending != nil {
		s.finish(mem, last)
	}
	if s.pc >= len(s.ops) {
		return syscallabi.Args{}, false
	}
	op := s.ops[s.pc]
	s.pc++

	args, addr := s.encode(mem, op)
	s.pending = &pendingOp{op: op, addr: addr}
	return args, true
}

func (s *Script) finish(mem *syscallabi.Arena, last syscallabi.Return) {
	p := s.pending
	s.pending = nil
	r := Result{Op: p.op, Return: last}
	switch p.op.Kind {
	case OpRead, OpRecv:
		if last.Errno == 0 && last.Value > 0 {
			r.Data = make([]byte, last.Value)
			if err := mem.ReadAt(r.Data, p.addr); err != nil {
				panic(err)
			}
		}
	case OpGettime:
		if last.Errno == 0 {
			ts, err := syscallabi.NewValueView[unix.Timespec](mem, p.addr).Get()
			if err != nil {
				panic(err)
			}
			r.Time = ts.Nano()
		}
	}
	s.results = append(s.results, r)
}

// encode lays out op's arguments in process memory. The returned address is
// the buffer results are read back from.
func (s *Script) encode(mem *syscallabi.Arena, op Op) (syscallabi.Args, uintptr) {
	switch op.Kind {
	case OpSleep:
		req := mem.Alloc(16)
		if err := syscallabi.NewValueView[unix.Timespec](mem, req).Set(unix.NsecToTimespec(int64(op.Duration))); err != nil {
			panic(err)
		}
		return syscallabi.Args{Number: unix.SYS_NANOSLEEP, Int0: req, Int1: mem.Alloc(16)}, 0

	case OpRead:
		buf := mem.Alloc(op.Size)
		return syscallabi.Args{Number: unix.SYS_READ, Int0: uintptr(op.FD), Int1: buf, Int2: uintptr(op.Size)}, buf

	case OpRecv:
		buf := mem.Alloc(op.Size)
		var flags uintptr
		if op.DontWait {
			flags |= unix.MSG_DONTWAIT
		}
		return syscallabi.Args{Number: unix.SYS_RECVFROM, Int0: uintptr(op.FD), Int1: buf, Int2: uintptr(op.Size), Int3: flags}, buf

	case OpWrite:
		buf := mem.AllocBytes(op.Data)
		return syscallabi.Args{Number: unix.SYS_WRITE, Int0: uintptr(op.FD), Int1: buf, Int2: uintptr(len(op.Data))}, 0

	case OpSend:
		buf := mem.AllocBytes(op.Data)
		var flags uintptr
		if op.DontWait {
			flags |= unix.MSG_DONTWAIT
		}
		return syscallabi.Args{Number: unix.SYS_SENDTO, Int0: uintptr(op.FD), Int1: buf, Int2: uintptr(len(op.Data)), Int3: flags}, 0

	case OpPoll:
		fds := mem.Alloc(8 * len(op.FDs))
		events := op.Events
		if events == 0 {
			events = unix.POLLIN
		}
		view := syscallabi.NewValueView[unix.PollFd](mem, fds)
		for i, fd := range op.FDs {
			if err := view.Index(i).Set(unix.PollFd{Fd: int32(fd), Events: events}); err != nil {
				panic(err)
			}
		}
		timeout := int64(op.Timeout)
		return syscallabi.Args{Number: unix.SYS_POLL, Int0: fds, Int1: uintptr(len(op.FDs)), Int2: uintptr(timeout)}, fds

	case OpClose:
		return syscallabi.Args{Number: unix.SYS_CLOSE, Int0: uintptr(op.FD)}, 0

	case OpGettime:
		tp := mem.Alloc(16)
		return syscallabi.Args{Number: unix.SYS_CLOCK_GETTIME, Int0: uintptr(op.Clock), Int1: tp}, tp

	case OpGetpid:
		return syscallabi.Args{Number: unix.SYS_GETPID}, 0

	case OpGettid:
		return syscallabi.Args{Number: unix.SYS_GETTID}, 0

	default:
		panic(fmt.Sprintf("unknown op %q", op.Kind))
	}
}
