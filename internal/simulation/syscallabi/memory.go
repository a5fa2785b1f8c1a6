package syscallabi

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// Memory is the address space of a simulated process. Accesses outside mapped
// memory fail with EFAULT.
type Memory interface {
	ReadAt(p []byte, addr uintptr) error
	WriteAt(p []byte, addr uintptr) error
}

// ArenaBase is the first address an Arena hands out. Everything below it,
// including NULL, faults.
const ArenaBase uintptr = 0x10000

// An Arena is a bump-allocated flat address space.
type Arena struct {
	data []byte
}

func NewArena() *Arena {
	return &Arena{}
}

// Alloc reserves n zeroed bytes and returns their address. Allocations are
// 8-byte aligned and never freed.
func (a *Arena) Alloc(n int) uintptr {
	addr := ArenaBase + uintptr(len(a.data))
	size := (n + 7) &^ 7
	a.data = append(a.data, make([]byte, size)...)
	return addr
}

// AllocBytes copies b into a fresh allocation.
func (a *Arena) AllocBytes(b []byte) uintptr {
	addr := a.Alloc(len(b))
	copy(a.data[addr-ArenaBase:], b)
	return addr
}

func (a *Arena) Size() int {
	return len(a.data)
}

func (a *Arena) slice(addr uintptr, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if addr < ArenaBase {
		return nil, unix.EFAULT
	}
	off := addr - ArenaBase
	if off > uintptr(len(a.data)) || uintptr(len(a.data))-off < uintptr(n) {
		return nil, unix.EFAULT
	}
	return a.data[off : off+uintptr(n)], nil
}

func (a *Arena) ReadAt(p []byte, addr uintptr) error {
	b, err := a.slice(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

func (a *Arena) WriteAt(p []byte, addr uintptr) error {
	b, err := a.slice(addr, len(p))
	if err != nil {
		return err
	}
	copy(b, p)
	return nil
}

// ByteSliceView is a syscall's window onto a buffer in process memory.
type ByteSliceView struct {
	mem  Memory
	addr uintptr
	len  int
}

func NewByteSliceView(mem Memory, addr uintptr, n uintptr) ByteSliceView {
	return ByteSliceView{mem: mem, addr: addr, len: int(n)}
}

func (b ByteSliceView) Len() int {
	return b.len
}

// Read copies from process memory into into.
func (b ByteSliceView) Read(into []byte) (int, error) {
	n := min(len(into), b.len)
	if err := b.mem.ReadAt(into[:n], b.addr); err != nil {
		return 0, err
	}
	return n, nil
}

// Write copies from into process memory.
func (b ByteSliceView) Write(from []byte) (int, error) {
	n := min(len(from), b.len)
	if err := b.mem.WriteAt(from[:n], b.addr); err != nil {
		return 0, err
	}
	return n, nil
}

// Check reports EFAULT if any byte of the view is unmapped.
func (b ByteSliceView) Check() error {
	if b.len == 0 {
		return nil
	}
	return b.mem.ReadAt(make([]byte, b.len), b.addr)
}

func (b ByteSliceView) Slice(from, to int) ByteSliceView {
	if from < 0 || to > b.len || from > to {
		panic("slice out of range")
	}
	return ByteSliceView{mem: b.mem, addr: b.addr + uintptr(from), len: to - from}
}

// ValueView is a typed pointer into process memory. T must have a fixed size
// in the encoding/binary sense, like unix.Timespec or unix.PollFd.
type ValueView[T any] struct {
	mem  Memory
	addr uintptr
}

func NewValueView[T any](mem Memory, addr uintptr) ValueView[T] {
	return ValueView[T]{mem: mem, addr: addr}
}

func (v ValueView[T]) IsNil() bool {
	return v.addr == 0
}

func (v ValueView[T]) size() int {
	var zero T
	return binary.Size(zero)
}

// Index returns the view of the i-th element of an array starting at v.
func (v ValueView[T]) Index(i int) ValueView[T] {
	return ValueView[T]{mem: v.mem, addr: v.addr + uintptr(i*v.size())}
}

func (v ValueView[T]) Get() (T, error) {
	var out T
	buf := make([]byte, v.size())
	if err := v.mem.ReadAt(buf, v.addr); err != nil {
		return out, err
	}
	err := binary.Read(bytes.NewReader(buf), binary.NativeEndian, &out)
	return out, err
}

func (v ValueView[T]) Set(val T) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, val); err != nil {
		return err
	}
	return v.mem.WriteAt(buf.Bytes(), v.addr)
}
