//go:build linux && amd64

package linux

import (
	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
)

const maxPollFds = 1024

func pollEvents(table *descriptor.Table, fd unix.PollFd) int16 {
	if fd.Fd < 0 {
		return 0
	}
	d := table.Get(int(fd.Fd))
	if d == nil {
		return unix.POLLNVAL
	}
	status := d.Status()
	if status&descriptor.StatusClosed != 0 {
		return unix.POLLNVAL
	}
	var revents int16
	if status&descriptor.StatusReadable != 0 {
		revents |= unix.POLLIN
	}
	if status&descriptor.StatusWritable != 0 {
		revents |= unix.POLLOUT
	}
	if status&descriptor.StatusHangup != 0 {
		revents |= unix.POLLHUP
	}
	return revents & (fd.Events | unix.POLLERR | unix.POLLHUP)
}

func pollMask(events int16) descriptor.Status {
	var mask descriptor.Status
	if events&unix.POLLIN != 0 {
		mask |= descriptor.StatusReadable
	}
	if events&unix.POLLOUT != 0 {
		mask |= descriptor.StatusWritable
	}
	return mask
}

// SysPoll implements poll(fds, nfds, timeout). A negative timeout waits
// forever and zero returns at once.
func SysPoll(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	nfds := int(args.Int1)
	if nfds < 0 || nfds > maxPollFds {
		return syscallabi.Fail(unix.EINVAL)
	}
	view := syscallabi.NewValueView[unix.PollFd](h.Process().Memory(), args.Int0)
	fds := make([]unix.PollFd, nfds)
	for i := range fds {
		fd, err := view.Index(i).Get()
		if err != nil {
			return syscallabi.FailErr(err)
		}
		fds[i] = fd
	}

	table := h.Process().Descriptors()
	ready := 0
	for i := range fds {
		fds[i].Revents = pollEvents(table, fds[i])
		if fds[i].Revents != 0 {
			ready++
		}
	}

	if ready == 0 {
		if !h.WasBlocked() {
			h.SetListenTimeoutMillis(int(int32(args.Int2)))
		}
		if !h.DidListenTimeoutExpire() {
			cond := syscallabi.NewCondition()
			for _, fd := range fds {
				if d := table.Get(int(fd.Fd)); fd.Fd >= 0 && d != nil {
					cond.Add(d, pollMask(fd.Events)|descriptor.StatusClosed)
				}
			}
			return syscallabi.Block(cond)
		}
	}

	for i := range fds {
		if err := view.Index(i).Set(fds[i]); err != nil {
			return syscallabi.FailErr(err)
		}
	}
	return syscallabi.Done(int64(ready))
}
