//go:build linux && amd64

package linux

import (
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
)

func SysGetpid(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	return syscallabi.Done(int64(h.Process().PID()))
}

func SysGettid(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
	return syscallabi.Done(int64(h.Thread().TID()))
}
