//go:build linux && amd64

package linux

import (
	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
)

func socketFD(h *syscall.Handler, fd int) (*descriptor.Socket, error) {
	d, err := h.Descriptor(fd, descriptor.TypeSocket)
	if syscall.IsTypeMismatch(err) {
		return nil, unix.ENOTSOCK
	}
	if err != nil {
		return nil, err
	}
	return d.(*descriptor.Socket), nil
}

// SysRecvfrom implements recvfrom(fd, buf, len, flags, addr, addrlen) on
// connected stream sockets. The source address is never filled in.
func SysRecvfrom(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	s, err := socketFD(h, int(args.Int0))
	if err != nil {
		return syscallabi.FailErr(err)
	}
	if args.Int5 != 0 {
		var zero uint32
		if err := syscallabi.NewValueView[uint32](h.Process().Memory(), args.Int5).Set(zero); err != nil {
			return syscallabi.FailErr(err)
		}
	}
	if args.Int2 == 0 {
		return syscallabi.Done(0)
	}
	flags := int(args.Int3)
	return receive(h, s, userBuffer(h, args.Int1, args.Int2), flags&unix.MSG_DONTWAIT != 0)
}

// SysSendto implements sendto(fd, buf, len, flags, addr, addrlen). The
// destination address is ignored since sockets are always connected.
func SysSendto(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	s, err := socketFD(h, int(args.Int0))
	if err != nil {
		return syscallabi.FailErr(err)
	}
	flags := int(args.Int3)
	return send(h, s, userBuffer(h, args.Int1, args.Int2), flags&unix.MSG_DONTWAIT != 0)
}
