//go:build linux && amd64

package simcall

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/config"
	"github.com/kmrgirish/simcall/internal/simulation"
	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
)

func (s *Simulation) build() error {
	for _, hc := range s.cfg.Hosts {
		h, err := s.sim.NewHost(hc.Name)
		if err != nil {
			return err
		}
		for _, pc := range hc.Processes {
			ref := config.ProcessRef(hc.Name, pc.Name)
			p := h.NewProcess()
			s.processes[ref] = p
			if err := s.installDescriptors(p, pc); err != nil {
				return fmt.Errorf("%s: %w", ref, err)
			}
		}
	}

	for _, cc := range s.cfg.Connections {
		a, b := descriptor.NewSocketPair(s.sched, cc.Latency, cc.Buffer)
		a.RecvTimeout, b.RecvTimeout = cc.RecvTimeout, cc.RecvTimeout
		if err := s.processes[cc.A.Process].AddAt(cc.A.FD, a); err != nil {
			return fmt.Errorf("connection %s: fd %d: %w", cc.Name, cc.A.FD, err)
		}
		if err := s.processes[cc.B.Process].AddAt(cc.B.FD, b); err != nil {
			return fmt.Errorf("connection %s: fd %d: %w", cc.Name, cc.B.FD, err)
		}
		s.links[cc.Name] = a
	}

	// Threads start after every descriptor, including sockets, is in place.
	for _, hc := range s.cfg.Hosts {
		for _, pc := range hc.Processes {
			p := s.processes[config.ProcessRef(hc.Name, pc.Name)]
			for _, tc := range pc.Threads {
				script := simulation.NewScript(scriptOps(tc.Ops)...)
				s.threads = append(s.threads, &thread{process: p, t: p.Spawn(script), script: script})
			}
		}
	}

	return s.scheduleFaults()
}

func (s *Simulation) installDescriptors(p *simulation.Process, pc config.Process) error {
	for _, pipe := range pc.Pipes {
		r, w := descriptor.NewPipe(pipe.Capacity)
		if err := p.AddAt(pipe.Read, r); err != nil {
			return fmt.Errorf("pipe fd %d: %w", pipe.Read, err)
		}
		if err := p.AddAt(pipe.Write, w); err != nil {
			return fmt.Errorf("pipe fd %d: %w", pipe.Write, err)
		}
	}
	for _, f := range pc.Files {
		if err := p.AddAt(f.FD, descriptor.NewFile(f.Name, []byte(f.Contents))); err != nil {
			return fmt.Errorf("file fd %d: %w", f.FD, err)
		}
	}
	for _, tc := range pc.Timers {
		t := descriptor.NewTimer(s.sched)
		if err := p.AddAt(tc.FD, t); err != nil {
			return fmt.Errorf("timer fd %d: %w", tc.FD, err)
		}
		if tc.After > 0 {
			t.Arm(tc.After)
		}
	}
	return nil
}

var clocks = map[string]int{
	"":          unix.CLOCK_MONOTONIC,
	"realtime":  unix.CLOCK_REALTIME,
	"monotonic": unix.CLOCK_MONOTONIC,
	"boottime":  unix.CLOCK_BOOTTIME,
}

func scriptOps(ops []config.Op) []simulation.Op {
	var out []simulation.Op
	for _, oc := range ops {
		op := simulation.Op{
			Kind:     simulation.OpKind(oc.Op),
			FD:       oc.FD,
			FDs:      oc.FDs,
			Size:     oc.Size,
			Duration: oc.Duration,
			Timeout:  -1,
			DontWait: oc.DontWait,
			Clock:    clocks[oc.Clock],
		}
		if oc.Data != "" {
			op.Data = []byte(oc.Data)
		}
		if oc.Timeout != nil {
			op.Timeout = *oc.Timeout
		}
		for _, ev := range oc.Events {
			switch ev {
			case "in":
				op.Events |= unix.POLLIN
			case "out":
				op.Events |= unix.POLLOUT
			}
		}
		for range max(oc.Repeat, 1) {
			out = append(out, op)
		}
	}
	return out
}
