package descriptor

import (
	"sort"

	"golang.org/x/sys/unix"
)

// firstFD is the lowest descriptor Add hands out; 0-2 are the standard
// streams.
const firstFD = 3

// A Table maps descriptor numbers to descriptors for one process.
type Table struct {
	descs map[int]Descriptor
}

func NewTable() *Table {
	return &Table{
		descs: make(map[int]Descriptor),
	}
}

// Add stores d under the lowest free descriptor number and returns it.
func (t *Table) Add(d Descriptor) int {
	fd := firstFD
	for {
		if _, ok := t.descs[fd]; !ok {
			break
		}
		fd++
	}
	t.descs[fd] = d
	return fd
}

// AddAt stores d under a specific descriptor number.
func (t *Table) AddAt(fd int, d Descriptor) error {
	if fd < 0 {
		return unix.EBADF
	}
	if _, ok := t.descs[fd]; ok {
		return unix.EEXIST
	}
	t.descs[fd] = d
	return nil
}

// Get returns the descriptor for fd or nil.
func (t *Table) Get(fd int) Descriptor {
	return t.descs[fd]
}

// Remove drops fd from the table and returns what was stored there, or nil.
func (t *Table) Remove(fd int) Descriptor {
	d, ok := t.descs[fd]
	if !ok {
		return nil
	}
	delete(t.descs, fd)
	return d
}

func (t *Table) Len() int {
	return len(t.descs)
}

// FDs returns all descriptor numbers in ascending order.
func (t *Table) FDs() []int {
	fds := make([]int, 0, len(t.descs))
	for fd := range t.descs {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

// CloseAll closes and removes every descriptor in fd order.
func (t *Table) CloseAll() {
	for _, fd := range t.FDs() {
		t.Remove(fd).Close()
	}
}
