//go:build linux && amd64

// Package linux implements simulated Linux syscalls on top of the syscall
// handler. Calls that would block in a real kernel return a blocked outcome
// and are retried by the thread once their condition holds.
package linux

import (
	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
)

// maxIO caps the bytes moved by a single read or write.
const maxIO = 1 << 20

// Register adds every implemented syscall to t.
func Register(t *syscall.Table) {
	t.Register(unix.SYS_READ, "read", SysRead)
	t.Register(unix.SYS_WRITE, "write", SysWrite)
	t.Register(unix.SYS_CLOSE, "close", SysClose)
	t.Register(unix.SYS_RECVFROM, "recvfrom", SysRecvfrom)
	t.Register(unix.SYS_SENDTO, "sendto", SysSendto)
	t.Register(unix.SYS_POLL, "poll", SysPoll)
	t.Register(unix.SYS_NANOSLEEP, "nanosleep", SysNanosleep)
	t.Register(unix.SYS_CLOCK_GETTIME, "clock_gettime", SysClockGettime)
	t.Register(unix.SYS_GETPID, "getpid", SysGetpid)
	t.Register(unix.SYS_GETTID, "gettid", SysGettid)
}

// NewTable returns a table with every implemented syscall registered.
func NewTable() *syscall.Table {
	t := syscall.NewTable()
	Register(t)
	return t
}

// waitFor is the condition of a call blocked on one descriptor. Closing the
// descriptor also wakes the call.
func waitFor(d descriptor.Descriptor, mask descriptor.Status) syscallabi.Return {
	return syscallabi.Block(syscallabi.NewCondition(syscallabi.Wait{Desc: d, Mask: mask | descriptor.StatusClosed}))
}

func userBuffer(h *syscall.Handler, addr, n uintptr) syscallabi.ByteSliceView {
	return syscallabi.NewByteSliceView(h.Process().Memory(), addr, min(n, maxIO))
}
