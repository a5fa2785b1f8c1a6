//go:build linux && amd64

package linux

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
	"github.com/kmrgirish/simcall/simruntime"
)

// SysNanosleep implements nanosleep(req, rem). The sleep cannot be
// interrupted, so rem is always zero.
func SysNanosleep(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	mem := h.Process().Memory()
	rem := syscallabi.NewValueView[unix.Timespec](mem, args.Int1)

	if !h.WasBlocked() {
		req, err := syscallabi.NewValueView[unix.Timespec](mem, args.Int0).Get()
		if err != nil {
			return syscallabi.FailErr(err)
		}
		if req.Sec < 0 || req.Nsec < 0 || req.Nsec >= int64(time.Second) {
			return syscallabi.Fail(unix.EINVAL)
		}
		h.SetListenTimeout(&req)
	}
	if !h.DidListenTimeoutExpire() {
		return syscallabi.Block(nil)
	}

	if !rem.IsNil() {
		if err := rem.Set(unix.Timespec{}); err != nil {
			return syscallabi.FailErr(err)
		}
	}
	return syscallabi.Done(0)
}

// SysClockGettime implements clock_gettime(clockid, tp) for the realtime
// and monotonic clocks. The monotonic clock starts at zero.
func SysClockGettime(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	var nsec int64
	switch int(args.Int0) {
	case unix.CLOCK_REALTIME:
		nsec = h.Now()
	case unix.CLOCK_MONOTONIC, unix.CLOCK_BOOTTIME:
		nsec = h.Now() - simruntime.Epoch.UnixNano()
	default:
		return syscallabi.Fail(unix.EINVAL)
	}
	ts := unix.NsecToTimespec(nsec)
	if err := syscallabi.NewValueView[unix.Timespec](h.Process().Memory(), args.Int1).Set(ts); err != nil {
		return syscallabi.FailErr(err)
	}
	return syscallabi.Done(0)
}
