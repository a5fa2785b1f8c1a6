//go:build linux && amd64

package linux

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
	"github.com/kmrgirish/simcall/simruntime"
)

type testHost struct{ sched *simruntime.Scheduler }

func (h *testHost) Name() string { return "test" }
func (h *testHost) ID() int { return 1 }
func (h *testHost) Scheduler() *simruntime.Scheduler { return h.sched }

type testProcess struct {
	mem   *syscallabi.Arena
	descs *descriptor.Table
}

func (p *testProcess) PID() int { return 1000 }
func (p *testProcess) Memory() syscallabi.Memory { return p.mem }
func (p *testProcess) Descriptors() *descriptor.Table { return p.descs }

type testThread struct{}

func (testThread) TID() int { return 1001 }

type env struct {
	t     *testing.T
	sched *simruntime.Scheduler
	proc  *testProcess
	h     *syscall.Handler
}

func newEnv(t *testing.T) *env {
	sched := simruntime.NewScheduler(1)
	proc := &testProcess{mem: syscallabi.NewArena(), descs: descriptor.NewTable()}
	h := syscall.New(&testHost{sched: sched}, proc, testThread{}, NewTable())
	return &env{t: t, sched: sched, proc: proc, h: h}
}

func (e *env) call(nr uintptr, args ...uintptr) syscallabi.Return {
	a := &syscallabi.Args{Number: nr}
	ints := []*uintptr{&a.Int0, &a.Int1, &a.Int2, &a.Int3, &a.Int4, &a.Int5}
	for i, v := range args {
		*ints[i] = v
	}
	return e.h.Make(a)
}

func (e *env) advance(d time.Duration) {
	e.t.Helper()
	if err := e.sched.RunFor(context.Background(), d); err != nil {
		e.t.Fatal(err)
	}
}

func (e *env) bytes(addr uintptr, n int) string {
	buf := make([]byte, n)
	if err := e.proc.mem.ReadAt(buf, addr); err != nil {
		e.t.Fatal(err)
	}
	return string(buf)
}

func expectDone(t *testing.T, ret syscallabi.Return, value int64) {
	t.Helper()
	if ret.Blocked() || ret.Errno != 0 || ret.Value != value {
		t.Fatalf("ret = %v, want %d", ret, value)
	}
}

func expectErrno(t *testing.T, ret syscallabi.Return, errno unix.Errno) {
	t.Helper()
	if ret.Blocked() || ret.Errno != errno {
		t.Fatalf("ret = %v, want %s", ret, unix.ErrnoName(errno))
	}
}

func expectBlocked(t *testing.T, ret syscallabi.Return) {
	t.Helper()
	if !ret.Blocked() {
		t.Fatalf("ret = %v, want blocked", ret)
	}
}

func TestReadBlocksUntilData(t *testing.T) {
	e := newEnv(t)
	r, w := descriptor.NewPipe(0)
	fd := uintptr(e.proc.descs.Add(r))
	buf := e.proc.mem.Alloc(16)

	ret := e.call(unix.SYS_READ, fd, buf, 16)
	expectBlocked(t, ret)
	if waits := ret.Cond.Waits; len(waits) != 1 || waits[0].Desc != r || waits[0].Mask != descriptor.StatusReadable|descriptor.StatusClosed {
		t.Errorf("waits = %v", waits)
	}

	w.Write([]byte("hello"))
	expectDone(t, e.call(unix.SYS_READ, fd, buf, 16), 5)
	if got := e.bytes(buf, 5); got != "hello" {
		t.Errorf("buffer = %q", got)
	}
	if e.h.WasBlocked() {
		t.Error("handler still blocked")
	}

	w.Close()
	expectDone(t, e.call(unix.SYS_READ, fd, buf, 16), 0)
}

func TestReadErrors(t *testing.T) {
	e := newEnv(t)
	f := descriptor.NewFile("f", []byte("data"))
	fd := uintptr(e.proc.descs.Add(f))

	expectErrno(t, e.call(unix.SYS_READ, 99, e.proc.mem.Alloc(4), 4), unix.EBADF)
	expectErrno(t, e.call(unix.SYS_READ, fd, 0, 4), unix.EFAULT)
	expectDone(t, e.call(unix.SYS_READ, fd, 0, 0), 0)
	if got := string(f.Contents()); got != "data" {
		t.Errorf("faulting read consumed data: %q", got)
	}
}

func TestWriteBlocksWhenFull(t *testing.T) {
	e := newEnv(t)
	r, w := descriptor.NewPipe(4)
	fd := uintptr(e.proc.descs.Add(w))
	buf := e.proc.mem.AllocBytes([]byte("abcdef"))

	expectDone(t, e.call(unix.SYS_WRITE, fd, buf, 6), 4)
	expectBlocked(t, e.call(unix.SYS_WRITE, fd, buf+4, 2))

	r.Read(make([]byte, 4))
	expectDone(t, e.call(unix.SYS_WRITE, fd, buf+4, 2), 2)

	r.Close()
	expectErrno(t, e.call(unix.SYS_WRITE, fd, buf, 1), unix.EPIPE)
}

func TestClose(t *testing.T) {
	e := newEnv(t)
	r, _ := descriptor.NewPipe(0)
	fd := uintptr(e.proc.descs.Add(r))
	expectDone(t, e.call(unix.SYS_CLOSE, fd), 0)
	expectErrno(t, e.call(unix.SYS_CLOSE, fd), unix.EBADF)
	if r.Status()&descriptor.StatusClosed == 0 {
		t.Error("descriptor not closed")
	}
}

func TestCloseWakesBlockedReader(t *testing.T) {
	e := newEnv(t)
	r, _ := descriptor.NewPipe(0)
	fd := uintptr(e.proc.descs.Add(r))
	buf := e.proc.mem.Alloc(4)

	ret := e.call(unix.SYS_READ, fd, buf, 4)
	expectBlocked(t, ret)
	woken := false
	ret.Cond.Waits[0].Desc.AddListener(&descriptor.Listener{
		Mask:   ret.Cond.Waits[0].Mask,
		Notify: func(descriptor.Descriptor, descriptor.Status) { woken = true },
	})

	e.proc.descs.Remove(int(fd)).Close()
	if !woken {
		t.Fatal("close did not wake the reader")
	}
	expectErrno(t, e.call(unix.SYS_READ, fd, buf, 4), unix.EBADF)
}

func TestRecvfromNotSocket(t *testing.T) {
	e := newEnv(t)
	fd := uintptr(e.proc.descs.Add(descriptor.NewFile("f", nil)))
	expectErrno(t, e.call(unix.SYS_RECVFROM, fd, e.proc.mem.Alloc(4), 4, 0, 0, 0), unix.ENOTSOCK)
	expectErrno(t, e.call(unix.SYS_SENDTO, fd, e.proc.mem.Alloc(4), 4, 0, 0, 0), unix.ENOTSOCK)
	if e.h.WasBlocked() {
		t.Error("type mismatch blocked the handler")
	}
}

func TestRecvfromDontwait(t *testing.T) {
	e := newEnv(t)
	a, _ := descriptor.NewSocketPair(e.sched, time.Millisecond, 0)
	fd := uintptr(e.proc.descs.Add(a))
	expectErrno(t, e.call(unix.SYS_RECVFROM, fd, e.proc.mem.Alloc(4), 4, unix.MSG_DONTWAIT, 0, 0), unix.EAGAIN)
}

func TestRecvfromZeroLength(t *testing.T) {
	e := newEnv(t)
	a, _ := descriptor.NewSocketPair(e.sched, time.Millisecond, 0)
	fd := uintptr(e.proc.descs.Add(a))
	expectDone(t, e.call(unix.SYS_RECVFROM, fd, e.proc.mem.Alloc(4), 0, 0, 0, 0), 0)
	if e.h.WasBlocked() {
		t.Error("zero-length recvfrom blocked")
	}
}

func TestSocketRoundTrip(t *testing.T) {
	e := newEnv(t)
	a, b := descriptor.NewSocketPair(e.sched, 10*time.Millisecond, 0)
	afd := uintptr(e.proc.descs.Add(a))
	bfd := uintptr(e.proc.descs.Add(b))
	out := e.proc.mem.AllocBytes([]byte("ping"))
	in := e.proc.mem.Alloc(8)
	addrlen := e.proc.mem.AllocBytes([]byte{9, 9, 9, 9})

	expectDone(t, e.call(unix.SYS_SENDTO, afd, out, 4, 0, 0, 0), 4)
	expectBlocked(t, e.call(unix.SYS_RECVFROM, bfd, in, 8, 0, 0, addrlen))
	e.advance(10 * time.Millisecond)
	expectDone(t, e.call(unix.SYS_RECVFROM, bfd, in, 8, 0, 0, addrlen), 4)
	if got := e.bytes(in, 4); got != "ping" {
		t.Errorf("received %q", got)
	}
	if got := e.bytes(addrlen, 4); got != "\x00\x00\x00\x00" {
		t.Errorf("addrlen = %q", got)
	}
}

func TestRecvTimeout(t *testing.T) {
	e := newEnv(t)
	a, b := descriptor.NewSocketPair(e.sched, time.Millisecond, 0)
	b.RecvTimeout = 100 * time.Millisecond
	fd := uintptr(e.proc.descs.Add(b))
	in := e.proc.mem.Alloc(8)

	ret := e.call(unix.SYS_RECVFROM, fd, in, 8, 0, 0, 0)
	expectBlocked(t, ret)
	if len(ret.Cond.Waits) != 2 || !e.h.IsListenTimeoutPending() {
		t.Fatalf("waits = %d pending = %v, want socket and timeout", len(ret.Cond.Waits), e.h.IsListenTimeoutPending())
	}

	// A spurious retry keeps the original deadline.
	e.advance(60 * time.Millisecond)
	expectBlocked(t, e.call(unix.SYS_RECVFROM, fd, in, 8, 0, 0, 0))
	e.advance(60 * time.Millisecond)
	expectErrno(t, e.call(unix.SYS_RECVFROM, fd, in, 8, 0, 0, 0), unix.EAGAIN)

	// Data that arrives together with the timeout wins.
	expectBlocked(t, e.call(unix.SYS_RECVFROM, fd, in, 8, 0, 0, 0))
	a.Send([]byte("x"))
	e.advance(time.Second)
	if !e.h.DidListenTimeoutExpire() {
		t.Fatal("timeout did not expire")
	}
	expectDone(t, e.call(unix.SYS_RECVFROM, fd, in, 8, 0, 0, 0), 1)
}

func pollFds(t *testing.T, e *env, fds ...unix.PollFd) uintptr {
	addr := e.proc.mem.Alloc(8 * len(fds))
	view := syscallabi.NewValueView[unix.PollFd](e.proc.mem, addr)
	for i, fd := range fds {
		if err := view.Index(i).Set(fd); err != nil {
			t.Fatal(err)
		}
	}
	return addr
}

func revents(t *testing.T, e *env, addr uintptr, n int) []int16 {
	view := syscallabi.NewValueView[unix.PollFd](e.proc.mem, addr)
	var out []int16
	for i := range n {
		fd, err := view.Index(i).Get()
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, fd.Revents)
	}
	return out
}

func TestPoll(t *testing.T) {
	e := newEnv(t)
	r, w := descriptor.NewPipe(0)
	rfd := int32(e.proc.descs.Add(r))
	wfd := int32(e.proc.descs.Add(w))
	fds := pollFds(t, e,
		unix.PollFd{Fd: rfd, Events: unix.POLLIN},
		unix.PollFd{Fd: wfd, Events: unix.POLLOUT},
		unix.PollFd{Fd: 77, Events: unix.POLLIN},
		unix.PollFd{Fd: -1, Events: unix.POLLIN},
	)

	expectDone(t, e.call(unix.SYS_POLL, fds, 4, 0), 2)
	want := []int16{0, unix.POLLOUT, unix.POLLNVAL, 0}
	if diff := cmp.Diff(want, revents(t, e, fds, 4)); diff != "" {
		t.Error(diff)
	}
}

func TestPollTimeout(t *testing.T) {
	e := newEnv(t)
	r, w := descriptor.NewPipe(0)
	fds := pollFds(t, e, unix.PollFd{Fd: int32(e.proc.descs.Add(r)), Events: unix.POLLIN})

	expectDone(t, e.call(unix.SYS_POLL, fds, 1, 0), 0)

	expectBlocked(t, e.call(unix.SYS_POLL, fds, 1, 50))
	e.advance(50 * time.Millisecond)
	expectDone(t, e.call(unix.SYS_POLL, fds, 1, 50), 0)

	minusOne := -1
	expectBlocked(t, e.call(unix.SYS_POLL, fds, 1, uintptr(minusOne)))
	if e.h.IsListenTimeoutPending() {
		t.Error("infinite poll armed a timeout")
	}
	w.Write([]byte("x"))
	expectDone(t, e.call(unix.SYS_POLL, fds, 1, uintptr(minusOne)), 1)
	if diff := cmp.Diff([]int16{unix.POLLIN}, revents(t, e, fds, 1)); diff != "" {
		t.Error(diff)
	}
}

func TestPollHangup(t *testing.T) {
	e := newEnv(t)
	r, w := descriptor.NewPipe(0)
	a, b := descriptor.NewSocketPair(e.sched, time.Millisecond, 0)
	fds := pollFds(t, e,
		unix.PollFd{Fd: int32(e.proc.descs.Add(r)), Events: unix.POLLIN},
		unix.PollFd{Fd: int32(e.proc.descs.Add(b)), Events: unix.POLLIN},
	)

	w.Close()
	a.Close()
	e.advance(time.Second)
	expectDone(t, e.call(unix.SYS_POLL, fds, 2, 0), 2)
	want := []int16{unix.POLLIN | unix.POLLHUP, unix.POLLIN | unix.POLLHUP}
	if diff := cmp.Diff(want, revents(t, e, fds, 2)); diff != "" {
		t.Error(diff)
	}
}

func TestPollInvalid(t *testing.T) {
	e := newEnv(t)
	expectErrno(t, e.call(unix.SYS_POLL, 0, maxPollFds+1, 0), unix.EINVAL)
	expectErrno(t, e.call(unix.SYS_POLL, 0, 1, 0), unix.EFAULT)
}

func TestNanosleep(t *testing.T) {
	e := newEnv(t)
	req := e.proc.mem.Alloc(16)
	rem := e.proc.mem.AllocBytes([]byte("xxxxxxxxxxxxxxxx"))
	syscallabi.NewValueView[unix.Timespec](e.proc.mem, req).Set(unix.Timespec{Sec: 1, Nsec: 500})

	expectBlocked(t, e.call(unix.SYS_NANOSLEEP, req, rem))
	if got := e.h.ListenTimeoutRemaining(); got != time.Second+500 {
		t.Errorf("remaining = %v", got)
	}
	e.advance(time.Second)
	expectBlocked(t, e.call(unix.SYS_NANOSLEEP, req, rem))
	e.advance(time.Millisecond)
	expectDone(t, e.call(unix.SYS_NANOSLEEP, req, rem), 0)
	if got := e.bytes(rem, 16); got != string(make([]byte, 16)) {
		t.Errorf("rem = %q, want zero", got)
	}
	if got := e.sched.Elapsed(); got != time.Second+time.Millisecond {
		t.Errorf("elapsed = %v", got)
	}
}

func TestNanosleepInvalid(t *testing.T) {
	e := newEnv(t)
	req := e.proc.mem.Alloc(16)
	syscallabi.NewValueView[unix.Timespec](e.proc.mem, req).Set(unix.Timespec{Nsec: int64(time.Second)})
	expectErrno(t, e.call(unix.SYS_NANOSLEEP, req, 0), unix.EINVAL)
	expectErrno(t, e.call(unix.SYS_NANOSLEEP, 0, 0), unix.EFAULT)

	syscallabi.NewValueView[unix.Timespec](e.proc.mem, req).Set(unix.Timespec{})
	expectDone(t, e.call(unix.SYS_NANOSLEEP, req, 0), 0)
}

func TestClockGettime(t *testing.T) {
	e := newEnv(t)
	e.advance(1500 * time.Millisecond)
	tp := e.proc.mem.Alloc(16)
	view := syscallabi.NewValueView[unix.Timespec](e.proc.mem, tp)

	expectDone(t, e.call(unix.SYS_CLOCK_GETTIME, unix.CLOCK_MONOTONIC, tp), 0)
	if got, _ := view.Get(); got != (unix.Timespec{Sec: 1, Nsec: 500_000_000}) {
		t.Errorf("monotonic = %+v", got)
	}
	expectDone(t, e.call(unix.SYS_CLOCK_GETTIME, unix.CLOCK_REALTIME, tp), 0)
	if got, _ := view.Get(); got.Sec != simruntime.Epoch.Unix()+1 {
		t.Errorf("realtime = %+v", got)
	}
	expectErrno(t, e.call(unix.SYS_CLOCK_GETTIME, 12345, tp), unix.EINVAL)
}

func TestIDs(t *testing.T) {
	e := newEnv(t)
	expectDone(t, e.call(unix.SYS_GETPID), 1000)
	expectDone(t, e.call(unix.SYS_GETTID), 1001)
}

func TestRegisterNames(t *testing.T) {
	table := NewTable()
	if table.Name(unix.SYS_NANOSLEEP) != "nanosleep" || len(table.Numbers()) != 10 {
		t.Errorf("unexpected table %v", table.Numbers())
	}
}
