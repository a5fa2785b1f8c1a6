//go:build linux && amd64

package linux

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
)

type reader interface {
	Read(into []byte) (int, error)
}

type writer interface {
	Write(from []byte) (int, error)
}

// armRecvTimeout bounds the first blocking attempt of a receive on a socket
// with SO_RCVTIMEO set.
func armRecvTimeout(h *syscall.Handler, d descriptor.Descriptor) {
	s, ok := d.(*descriptor.Socket)
	if !ok || s.RecvTimeout <= 0 || h.WasBlocked() {
		return
	}
	ts := unix.NsecToTimespec(int64(s.RecvTimeout))
	h.SetListenTimeout(&ts)
}

// receive reads from d into data, blocking until d is readable unless
// nonblocking is set.
func receive(h *syscall.Handler, d descriptor.Descriptor, data syscallabi.ByteSliceView, nonblocking bool) syscallabi.Return {
	r, ok := d.(reader)
	if !ok {
		return syscallabi.Fail(unix.EINVAL)
	}
	if err := data.Check(); err != nil {
		return syscallabi.FailErr(err)
	}

	buf := make([]byte, data.Len())
	n, err := r.Read(buf)
	if errors.Is(err, unix.EAGAIN) {
		if nonblocking || (h.WasBlocked() && h.DidListenTimeoutExpire()) {
			return syscallabi.Fail(unix.EAGAIN)
		}
		armRecvTimeout(h, d)
		return waitFor(d, descriptor.StatusReadable)
	}
	if err != nil {
		return syscallabi.FailErr(err)
	}
	if _, err := data.Write(buf[:n]); err != nil {
		return syscallabi.FailErr(err)
	}
	return syscallabi.Done(int64(n))
}

func send(h *syscall.Handler, d descriptor.Descriptor, data syscallabi.ByteSliceView, nonblocking bool) syscallabi.Return {
	w, ok := d.(writer)
	if !ok {
		return syscallabi.Fail(unix.EINVAL)
	}
	buf := make([]byte, data.Len())
	if _, err := data.Read(buf); err != nil {
		return syscallabi.FailErr(err)
	}

	n, err := w.Write(buf)
	if errors.Is(err, unix.EAGAIN) {
		if nonblocking {
			return syscallabi.Fail(unix.EAGAIN)
		}
		return waitFor(d, descriptor.StatusWritable)
	}
	if err != nil {
		return syscallabi.FailErr(err)
	}
	return syscallabi.Done(int64(n))
}

// SysRead implements read(fd, buf, count).
func SysRead(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	d, err := h.Descriptor(int(args.Int0), descriptor.TypeNone)
	if err != nil {
		return syscallabi.FailErr(err)
	}
	if args.Int2 == 0 {
		return syscallabi.Done(0)
	}
	return receive(h, d, userBuffer(h, args.Int1, args.Int2), false)
}

// SysWrite implements write(fd, buf, count).
func SysWrite(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	d, err := h.Descriptor(int(args.Int0), descriptor.TypeNone)
	if err != nil {
		return syscallabi.FailErr(err)
	}
	if args.Int2 == 0 {
		return syscallabi.Done(0)
	}
	return send(h, d, userBuffer(h, args.Int1, args.Int2), false)
}

// SysClose implements close(fd). Threads blocked on the descriptor wake up
// and find it gone.
func SysClose(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	d := h.Process().Descriptors().Remove(int(args.Int0))
	if d == nil {
		return syscallabi.Fail(unix.EBADF)
	}
	if err := d.Close(); err != nil {
		return syscallabi.FailErr(err)
	}
	return syscallabi.Done(0)
}
