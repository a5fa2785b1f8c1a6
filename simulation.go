//go:build linux && amd64

package simcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kmrgirish/simcall/internal/config"
	"github.com/kmrgirish/simcall/internal/simulation"
	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
	"github.com/kmrgirish/simcall/nemesis"
	"github.com/kmrgirish/simcall/simruntime"
)

type (
	Config = config.Config
	Event  = simulation.Event
)

// Load reads a scenario file.
func Load(path string) (*Config, error) {
	return config.Load(path)
}

// Parse decodes a scenario.
func Parse(data []byte) (*Config, error) {
	return config.Parse(data)
}

type options struct {
	seed       *int64
	logHandler slog.Handler
	tracer     simulation.Tracer
}

type Option func(o *options)

// WithSeed overrides the scenario's seed.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = &seed
	}
}

// WithLogHandler sends simulation logs to h.
func WithLogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// WithTracer calls fn with every syscall outcome as it happens.
func WithTracer(fn func(e Event)) Option {
	return func(o *options) {
		o.tracer = simulation.TracerFunc(fn)
	}
}

// A Simulation is a scenario ready to run once.
type Simulation struct {
	cfg   *Config
	seed  int64
	sched *simruntime.Scheduler
	sim   *simulation.Simulation

	processes map[string]*simulation.Process
	links     map[string]*descriptor.Socket
	threads   []*thread

	events []Event
	ran    bool
}

type thread struct {
	process *simulation.Process
	t       *simulation.Thread
	script  *simulation.Script
}

// A ThreadResult holds the completed syscalls of one scripted thread.
type ThreadResult struct {
	Process string
	PID     int
	TID     int
	Results []simulation.Result
	Killed  bool
}

type Result struct {
	Seed     int64
	Checksum []byte
	// Elapsed is the simulated time at which the run ended.
	Elapsed time.Duration
	Steps   int
	Events  []Event
	Threads []ThreadResult
}

// ErrAlreadyRan is returned by a second call to Run.
var ErrAlreadyRan = errors.New("simulation already ran")

// New builds the hosts, processes, descriptors and threads of cfg. Nothing
// runs until Run.
func New(cfg *Config, opts ...Option) (*Simulation, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	seed := cfg.Seed
	if o.seed != nil {
		seed = *o.seed
	}

	schedOpts := []simruntime.Option{simruntime.WithStopTime(cfg.Stop)}
	if o.logHandler != nil {
		schedOpts = append(schedOpts, simruntime.WithLogHandler(o.logHandler))
	}
	sched := simruntime.NewScheduler(seed, schedOpts...)

	s := &Simulation{
		cfg:       cfg,
		seed:      seed,
		sched:     sched,
		processes: make(map[string]*simulation.Process),
		links:     make(map[string]*descriptor.Socket),
	}
	s.sim = simulation.New(sched, simulation.WithTracer(simulation.TracerFunc(func(e Event) {
		s.events = append(s.events, e)
		if o.tracer != nil {
			o.tracer.Trace(e)
		}
	})))

	if err := s.build(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulation) Scheduler() *simruntime.Scheduler { return s.sched }

// Process returns the process named "host/process" in the scenario.
func (s *Simulation) Process(ref string) *simulation.Process {
	return s.processes[ref]
}

// Run runs the simulation until every thread exits or the scenario's stop
// time. A deadlock or protocol violation is returned as an error alongside
// the partial result.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	if s.ran {
		return nil, ErrAlreadyRan
	}
	s.ran = true

	logger := s.sched.Logger()
	logger.Info("starting simulation", "scenario", s.cfg.Name, "seed", s.seed)
	err := s.sched.Run(ctx)

	res := &Result{
		Seed:     s.seed,
		Checksum: s.sched.Checksum(),
		Elapsed:  s.sched.Elapsed(),
		Steps:    s.sched.Steps(),
		Events:   s.events,
	}
	for _, th := range s.threads {
		res.Threads = append(res.Threads, ThreadResult{
			Process: th.process.String(),
			PID:     th.process.PID(),
			TID:     th.t.TID(),
			Results: th.script.Results(),
			Killed:  th.t.Exited() && !th.script.Done(),
		})
	}
	if err != nil {
		logger.Error("simulation failed", "err", err)
		return res, err
	}
	logger.Info("simulation finished", "elapsed", res.Elapsed, "steps", res.Steps, "checksum", fmt.Sprintf("%x", res.Checksum))
	return res, nil
}

// scriptedTID returns the TID of the n-th scripted thread of p, counting
// from 1 in scenario order, or -1 if p has fewer threads.
func (s *Simulation) scriptedTID(p *simulation.Process, n int) int {
	for _, th := range s.threads {
		if th.process != p {
			continue
		}
		if n--; n == 0 {
			return th.t.TID()
		}
	}
	return -1
}

func (s *Simulation) scheduleFaults() error {
	for i, f := range s.cfg.Faults {
		var sc nemesis.Scenario
		switch f.Kind {
		case config.FaultClose:
			sc = nemesis.CloseDescriptor{Process: s.processes[f.Process], FD: f.FD}
		case config.FaultKill:
			p := s.processes[f.Process]
			tid := 0
			if f.TID != 0 {
				tid = s.scriptedTID(p, f.TID)
			}
			sc = nemesis.Kill{Process: p, TID: tid}
		case config.FaultLatency:
			sc = nemesis.SetLatency{Sockets: []*descriptor.Socket{s.links[f.Connection]}, Latency: f.Latency}
		case config.FaultPartition:
			sc = nemesis.Partition{Sockets: []*descriptor.Socket{s.links[f.Connection]}}
		case config.FaultHeal:
			sc = nemesis.Heal{Sockets: []*descriptor.Socket{s.links[f.Connection]}}
		default:
			return fmt.Errorf("fault %d: unknown kind %q", i, f.Kind)
		}
		nemesis.Run(s.sched, nemesis.After(f.At, sc))
	}
	return nil
}
