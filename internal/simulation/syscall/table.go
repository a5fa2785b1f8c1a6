package syscall

import (
	"fmt"
	"sort"

	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
)

// Fn implements one syscall. It returns a done outcome, or a blocked outcome
// to be called again with the same arguments once the condition is met.
type Fn func(h *Handler, args *syscallabi.Args) syscallabi.Return

type Syscall struct {
	Name string
	Fn   Fn
}

// A Table maps syscall numbers to implementations. Tables are filled once
// before any handler uses them.
type Table struct {
	calls map[uintptr]*Syscall
}

func NewTable() *Table {
	return &Table{
		calls: make(map[uintptr]*Syscall),
	}
}

// Register adds the implementation for nr. Registering a number twice panics.
func (t *Table) Register(nr uintptr, name string, fn Fn) {
	if fn == nil {
		panic(fmt.Sprintf("syscall %s (%d) registered without an implementation", name, nr))
	}
	if old, ok := t.calls[nr]; ok {
		panic(fmt.Sprintf("syscall %d registered twice: %s and %s", nr, old.Name, name))
	}
	t.calls[nr] = &Syscall{Name: name, Fn: fn}
}

// Lookup returns the implementation for nr, or nil.
func (t *Table) Lookup(nr uintptr) *Syscall {
	return t.calls[nr]
}

// Name returns the registered name of nr, or its number.
func (t *Table) Name(nr uintptr) string {
	if sc := t.calls[nr]; sc != nil {
		return sc.Name
	}
	return fmt.Sprintf("syscall_%d", nr)
}

// Numbers returns every registered syscall number in ascending order.
func (t *Table) Numbers() []uintptr {
	nrs := make([]uintptr, 0, len(t.calls))
	for nr := range t.calls {
		nrs = append(nrs, nr)
	}
	sort.Slice(nrs, func(i, j int) bool { return nrs[i] < nrs[j] })
	return nrs
}
