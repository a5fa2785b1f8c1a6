//go:build linux && amd64

// Package simulation wires simulated hosts, processes and threads to the
// syscall handler. Every thread is a task on one simruntime.Scheduler; a
// thread blocked in a syscall parks until a descriptor it waits on changes
// status or its handler's timeout fires.
package simulation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/internal/simulation/linux"
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/simruntime"
)

type Simulation struct {
	sched *simruntime.Scheduler
	table *syscall.Table

	nextHostID  int
	hosts       []*Host
	hostsByName map[string]*Host

	tracer   Tracer
	eventSeq int

	logger *slog.Logger
}

// An Option configures a Simulation.
type Option func(s *Simulation)

// WithTracer reports every syscall outcome to t.
func WithTracer(t Tracer) Option {
	return func(s *Simulation) {
		s.tracer = t
	}
}

// WithTable replaces the default Linux syscall table.
func WithTable(t *syscall.Table) Option {
	return func(s *Simulation) {
		s.table = t
	}
}

func New(sched *simruntime.Scheduler, opts ...Option) *Simulation {
	s := &Simulation{
		sched:       sched,
		nextHostID:  1,
		hostsByName: make(map[string]*Host),
		logger:      sched.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.table == nil {
		s.table = linux.NewTable()
	}
	return s
}

func (s *Simulation) Scheduler() *simruntime.Scheduler { return s.sched }

func (s *Simulation) Table() *syscall.Table { return s.table }

// NewHost adds a host. Host names are unique; an empty name picks one.
func (s *Simulation) NewHost(name string) (*Host, error) {
	id := s.nextHostID
	if name == "" {
		name = fmt.Sprintf("host-%d", id)
	}
	if _, ok := s.hostsByName[name]; ok {
		return nil, fmt.Errorf("duplicate host %q", name)
	}
	s.nextHostID++

	h := &Host{
		id:      id,
		name:    name,
		sim:     s,
		nextID:  firstPID,
	}
	s.hosts = append(s.hosts, h)
	s.hostsByName[name] = h
	return h, nil
}

// Host returns the host called name, or nil.
func (s *Simulation) Host(name string) *Host {
	return s.hostsByName[name]
}

func (s *Simulation) Hosts() []*Host {
	return s.hosts
}

// Connect creates a connected stream socket pair between two processes and
// returns the descriptor each end was installed under.
func (s *Simulation) Connect(a, b *Process, latency time.Duration, bufferSize int) (fdA, fdB int, sa, sb *descriptor.Socket) {
	sa, sb = descriptor.NewSocketPair(s.sched, latency, bufferSize)
	fdA = a.descs.Add(sa)
	fdB = b.descs.Add(sb)
	s.logger.Debug("connected", "a", a.String(), "fd_a", fdA, "b", b.String(), "fd_b", fdB, "latency", latency)
	return fdA, fdB, sa, sb
}
