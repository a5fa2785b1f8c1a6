//go:build linux && amd64

package simulation

import (
	"fmt"
	"slices"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
)

// A Process owns an address space and a descriptor table shared by its
// threads. When its last thread exits every descriptor is closed.
type Process struct {
	pid  int
	host *Host

	mem   *syscallabi.Arena
	descs *descriptor.Table

	threads map[int]*Thread
	spawned int
	exited  bool
}

func (p *Process) PID() int { return p.pid }

func (p *Process) Host() *Host { return p.host }

func (p *Process) Memory() syscallabi.Memory { return p.mem }

// Arena gives programs direct access to the process memory to lay out
// syscall arguments.
func (p *Process) Arena() *syscallabi.Arena { return p.mem }

func (p *Process) Descriptors() *descriptor.Table { return p.descs }

func (p *Process) Exited() bool { return p.exited }

func (p *Process) String() string {
	return fmt.Sprintf("%s/%d", p.host.name, p.pid)
}

// NewPipe installs both ends of a new pipe.
func (p *Process) NewPipe(capacity int) (rfd, wfd int) {
	r, w := descriptor.NewPipe(capacity)
	return p.descs.Add(r), p.descs.Add(w)
}

// AddFile installs an in-memory file.
func (p *Process) AddFile(name string, contents []byte) int {
	return p.descs.Add(descriptor.NewFile(name, contents))
}

// Spawn starts a thread running program. The first thread's TID equals the
// PID; later threads take fresh ids from the host, so a TID never collides
// with another process's PID.
func (p *Process) Spawn(program Program) *Thread {
	if p.exited {
		panic(fmt.Sprintf("spawn in exited process %s", p))
	}
	tid := p.pid
	if p.spawned > 0 {
		tid = p.host.allocID()
	}
	p.spawned++

	t := &Thread{
		tid:     tid,
		process: p,
		program: program,
		sched:   p.host.sim.sched,
	}
	t.handler = syscall.New(p.host, p, t, p.host.sim.table)
	p.threads[tid] = t
	p.host.sim.sched.Spawn(t)
	return t
}

// Thread returns the live thread with tid, or nil.
func (p *Process) Thread(tid int) *Thread {
	return p.threads[tid]
}

func (p *Process) threadExited(t *Thread) {
	delete(p.threads, t.tid)
	if len(p.threads) > 0 {
		return
	}
	p.exited = true
	p.descs.CloseAll()
	p.host.sim.logger.Debug("process exited", "process", p.String())
}

// Threads returns the live threads ordered by TID.
func (p *Process) Threads() []*Thread {
	threads := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		threads = append(threads, t)
	}
	slices.SortFunc(threads, func(a, b *Thread) int { return a.tid - b.tid })
	return threads
}

// AddAt installs d under a chosen fd, for setting up a process before its
// threads start.
func (p *Process) AddAt(fd int, d descriptor.Descriptor) error {
	return p.descs.AddAt(fd, d)
}
