//go:build linux && amd64

package simulation

import (
	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
	"github.com/kmrgirish/simcall/simruntime"
)

const firstPID = 1000

// A Host is a simulated machine holding processes.
type Host struct {
	id   int
	name string
	sim  *Simulation

	// pids and tids share one id space
	nextID    int
	processes []*Process
}

func (h *Host) ID() int { return h.id }

func (h *Host) Name() string { return h.name }

func (h *Host) Scheduler() *simruntime.Scheduler { return h.sim.sched }

func (h *Host) Simulation() *Simulation { return h.sim }

// NewProcess starts an empty process with no threads.
func (h *Host) NewProcess() *Process {
	p := &Process{
		pid:     h.allocID(),
		host:    h,
		mem:     syscallabi.NewArena(),
		descs:   descriptor.NewTable(),
		threads: make(map[int]*Thread),
	}
	h.processes = append(h.processes, p)
	return p
}

func (h *Host) allocID() int {
	id := h.nextID
	h.nextID++
	return id
}

// Process returns the process with pid, or nil.
func (h *Host) Process(pid int) *Process {
	for _, p := range h.processes {
		if p.pid == pid {
			return p
		}
	}
	return nil
}

func (h *Host) Processes() []*Process {
	return h.processes
}
