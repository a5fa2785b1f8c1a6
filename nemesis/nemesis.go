//go:build linux && amd64

/*
Package nemesis contains pre-built scenarios that introduce problems into a
running simulation to try and trigger rare bugs in how syscalls block, time
out and fail.

Scenarios run on the simulation's scheduler as timer callbacks, so they
interleave deterministically with simulated threads.
*/
package nemesis

import (
	"time"

	"github.com/kmrgirish/simcall/internal/simulation"
	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/simruntime"
)

// A Scenario is a potentially challenging scenario that can be started on a
// scheduler. It calls done, if non-nil, once it is over.
type Scenario interface {
	Start(s *simruntime.Scheduler, done func())
}

func finish(done func()) {
	if done != nil {
		done()
	}
}

// Run starts scenario at the current simulated time.
func Run(s *simruntime.Scheduler, scenario Scenario) {
	scenario.Start(s, nil)
}

// Sleep is a scenario that simply waits.
type Sleep struct {
	Duration time.Duration
}

// Start implements Scenario.
func (sl Sleep) Start(s *simruntime.Scheduler, done func()) {
	s.AfterFunc(sl.Duration, func() { finish(done) })
}

// Func is a scenario that calls a function and is done immediately.
type Func func(s *simruntime.Scheduler)

// Start implements Scenario.
func (f Func) Start(s *simruntime.Scheduler, done func()) {
	f(s)
	finish(done)
}

// CloseDescriptor closes fd in a process as if another thread had closed it.
// Threads blocked on it wake up and see it gone.
type CloseDescriptor struct {
	Process *simulation.Process
	FD      int
}

// Start implements Scenario.
func (c CloseDescriptor) Start(s *simruntime.Scheduler, done func()) {
	d := c.Process.Descriptors().Remove(c.FD)
	if d == nil {
		s.Logger().Warn("close descriptor: no such fd", "process", c.Process.String(), "fd", c.FD)
	} else {
		s.Logger().Info("close descriptor", "process", c.Process.String(), "fd", c.FD, "type", d.Type().String())
		d.Close()
	}
	finish(done)
}

// SetLatency changes the one-way latency of connected sockets. Data already
// in flight keeps its original delivery time.
type SetLatency struct {
	Sockets []*descriptor.Socket
	Latency time.Duration
}

// Start implements Scenario.
func (l SetLatency) Start(s *simruntime.Scheduler, done func()) {
	s.Logger().Info("set latency", "sockets", len(l.Sockets), "latency", l.Latency)
	for _, sock := range l.Sockets {
		sock.SetLatency(l.Latency)
	}
	finish(done)
}

// Partition disconnects sockets so that nothing sent arrives. A positive
// Duration heals the partition afterwards; otherwise it lasts until a Heal.
type Partition struct {
	Sockets  []*descriptor.Socket
	Duration time.Duration
}

// Start implements Scenario.
func (p Partition) Start(s *simruntime.Scheduler, done func()) {
	s.Logger().Info("partition", "sockets", len(p.Sockets), "duration", p.Duration)
	setConnected(p.Sockets, false)
	if p.Duration <= 0 {
		finish(done)
		return
	}
	s.AfterFunc(p.Duration, func() {
		s.Logger().Info("partition healed", "sockets", len(p.Sockets))
		setConnected(p.Sockets, true)
		finish(done)
	})
}

// Heal reconnects partitioned sockets.
type Heal struct {
	Sockets []*descriptor.Socket
}

// Start implements Scenario.
func (h Heal) Start(s *simruntime.Scheduler, done func()) {
	s.Logger().Info("heal", "sockets", len(h.Sockets))
	setConnected(h.Sockets, true)
	finish(done)
}

func setConnected(sockets []*descriptor.Socket, connected bool) {
	for _, sock := range sockets {
		sock.SetConnected(connected)
	}
}

// PartitionRandomly cuts a random non-empty subset of the given connections
// for Duration. Either end of a connection identifies it.
type PartitionRandomly struct {
	Links    []*descriptor.Socket
	Duration time.Duration
}

// Start implements Scenario.
func (p PartitionRandomly) Start(s *simruntime.Scheduler, done func()) {
	if len(p.Links) == 0 {
		panic("partition randomly: need at least one link")
	}
	var cut []*descriptor.Socket
	for len(cut) == 0 {
		for _, link := range p.Links {
			if s.Intn(2) == 0 {
				cut = append(cut, link)
			}
		}
	}
	Partition{Sockets: cut, Duration: p.Duration}.Start(s, done)
}

// Kill stops a thread wherever it is, including inside a blocked syscall. A
// zero TID kills every thread of the process.
type Kill struct {
	Process *simulation.Process
	TID     int
}

// Start implements Scenario.
func (k Kill) Start(s *simruntime.Scheduler, done func()) {
	if k.TID == 0 {
		s.Logger().Info("kill process", "process", k.Process.String())
		for _, t := range k.Process.Threads() {
			t.Kill()
		}
		finish(done)
		return
	}
	t := k.Process.Thread(k.TID)
	if t == nil {
		s.Logger().Warn("kill: no such thread", "process", k.Process.String(), "tid", k.TID)
	} else {
		s.Logger().Info("kill thread", "thread", t.String())
		t.Kill()
	}
	finish(done)
}

// KillRandomly kills one randomly chosen live thread of the given processes.
type KillRandomly struct {
	Processes []*simulation.Process
}

// Start implements Scenario.
func (k KillRandomly) Start(s *simruntime.Scheduler, done func()) {
	var threads []*simulation.Thread
	for _, p := range k.Processes {
		threads = append(threads, p.Threads()...)
	}
	if len(threads) == 0 {
		s.Logger().Warn("kill randomly: no live threads")
		finish(done)
		return
	}
	t := threads[s.Intn(len(threads))]
	s.Logger().Info("kill randomly", "thread", t.String())
	t.Kill()
	finish(done)
}

// After runs scenario once d has passed.
func After(d time.Duration, scenario Scenario) Scenario {
	return Sequence(Sleep{Duration: d}, scenario)
}

type sequence []Scenario

func (seq sequence) Start(s *simruntime.Scheduler, done func()) {
	if len(seq) == 0 {
		finish(done)
		return
	}
	seq[0].Start(s, func() {
		seq[1:].Start(s, done)
	})
}

// Sequence runs the given scenarios one after another.
func Sequence(scenarios ...Scenario) Scenario {
	return sequence(scenarios)
}

// Repeat repeats the given scenario a number of times.
func Repeat(scenario Scenario, times int) Scenario {
	seq := make(sequence, times)
	for i := range seq {
		seq[i] = scenario
	}
	return seq
}

type parallel []Scenario

func (par parallel) Start(s *simruntime.Scheduler, done func()) {
	remaining := len(par)
	if remaining == 0 {
		finish(done)
		return
	}
	for _, sc := range par {
		sc.Start(s, func() {
			remaining--
			if remaining == 0 {
				finish(done)
			}
		})
	}
}

// Parallel starts all scenarios at once and is done when all of them are.
func Parallel(scenarios ...Scenario) Scenario {
	return parallel(scenarios)
}
