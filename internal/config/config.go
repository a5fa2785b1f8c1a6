// Package config loads scenario files: the hosts, processes, descriptors and
// scripted threads of a simulation, the socket connections between
// processes, and the faults injected while it runs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Name string `yaml:"name"`
	Seed int64  `yaml:"seed"`
	// Stop ends the simulation at this simulated time even if threads are
	// still blocked. Zero runs until every thread exits.
	Stop time.Duration `yaml:"stop"`

	Hosts       []Host       `yaml:"hosts"`
	Connections []Connection `yaml:"connections"`
	Faults      []Fault      `yaml:"faults"`
}

type Host struct {
	Name      string    `yaml:"name"`
	Processes []Process `yaml:"processes"`
}

type Process struct {
	Name    string   `yaml:"name"`
	Pipes   []Pipe   `yaml:"pipes"`
	Files   []File   `yaml:"files"`
	Timers  []Timer  `yaml:"timers"`
	Threads []Thread `yaml:"threads"`
}

type Pipe struct {
	Read     int `yaml:"read"`
	Write    int `yaml:"write"`
	Capacity int `yaml:"capacity"`
}

type File struct {
	FD       int    `yaml:"fd"`
	Name     string `yaml:"name"`
	Contents string `yaml:"contents"`
}

// A Timer is a timerfd-like descriptor. A positive After arms it when the
// simulation starts; otherwise it stays disarmed.
type Timer struct {
	FD    int           `yaml:"fd"`
	After time.Duration `yaml:"after"`
}

type Thread struct {
	Ops []Op `yaml:"ops"`
}

// An Op is one scripted syscall. Repeat runs it that many times.
type Op struct {
	Op       string        `yaml:"op"`
	FD       int           `yaml:"fd"`
	FDs      []int         `yaml:"fds"`
	Data     string        `yaml:"data"`
	Size     int           `yaml:"size"`
	Duration time.Duration `yaml:"duration"`
	// Timeout is the poll timeout in milliseconds. Unset waits forever.
	Timeout  *int     `yaml:"timeout"`
	Events   []string `yaml:"events"`
	DontWait bool     `yaml:"dontwait"`
	Clock    string   `yaml:"clock"`
	Repeat   int      `yaml:"repeat"`
}

// An Endpoint names a descriptor in a process as "host/process" plus fd.
type Endpoint struct {
	Process string `yaml:"process"`
	FD      int    `yaml:"fd"`
}

type Connection struct {
	Name    string        `yaml:"name"`
	A       Endpoint      `yaml:"a"`
	B       Endpoint      `yaml:"b"`
	Latency time.Duration `yaml:"latency"`
	Buffer  int           `yaml:"buffer"`
	// RecvTimeout is set on both ends, like SO_RCVTIMEO.
	RecvTimeout time.Duration `yaml:"recv_timeout"`
}

// A Fault disrupts the simulation at a simulated time.
type Fault struct {
	At   time.Duration `yaml:"at"`
	Kind string        `yaml:"kind"`

	// close, kill. TID counts the process's threads from 1 in scenario
	// order; zero kills them all.
	Process string `yaml:"process"`
	FD      int    `yaml:"fd"`
	TID     int    `yaml:"tid"`

	// latency, partition, heal
	Connection string        `yaml:"connection"`
	Latency    time.Duration `yaml:"latency"`
}

const (
	FaultClose     = "close"
	FaultKill      = "kill"
	FaultLatency   = "latency"
	FaultPartition = "partition"
	FaultHeal      = "heal"
)

var ops = map[string]bool{
	"sleep": true, "read": true, "write": true, "recv": true, "send": true,
	"poll": true, "close": true, "gettime": true, "getpid": true, "gettid": true,
}

var clocks = map[string]bool{"": true, "realtime": true, "monotonic": true, "boottime": true}

var ErrInvalid = errors.New("invalid scenario")

// Load reads and validates a scenario file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a scenario. Unknown fields are errors.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	for i := range c.Hosts {
		h := &c.Hosts[i]
		if h.Name == "" {
			h.Name = fmt.Sprintf("host-%d", i+1)
		}
		for j := range h.Processes {
			if h.Processes[j].Name == "" {
				h.Processes[j].Name = fmt.Sprintf("p%d", j)
			}
		}
	}
	for i := range c.Connections {
		if c.Connections[i].Name == "" {
			c.Connections[i].Name = fmt.Sprintf("conn-%d", i)
		}
	}
}

// ProcessRef returns the "host/process" name used by endpoints and faults.
func ProcessRef(host, process string) string {
	return host + "/" + process
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (c *Config) Validate() error {
	if c.Stop < 0 {
		return invalid("negative stop time")
	}

	// fds in use per process
	fds := make(map[string]map[int]bool)
	threads := make(map[string]int)
	hosts := make(map[string]bool)
	claim := func(ref string, fd int) error {
		if fd < 3 {
			return invalid("%s: fd %d is reserved", ref, fd)
		}
		if fds[ref][fd] {
			return invalid("%s: fd %d used twice", ref, fd)
		}
		fds[ref][fd] = true
		return nil
	}

	for _, h := range c.Hosts {
		if strings.Contains(h.Name, "/") {
			return invalid("host name %q contains /", h.Name)
		}
		if hosts[h.Name] {
			return invalid("duplicate host %q", h.Name)
		}
		hosts[h.Name] = true
		for _, p := range h.Processes {
			ref := ProcessRef(h.Name, p.Name)
			if _, ok := fds[ref]; ok {
				return invalid("duplicate process %q", ref)
			}
			fds[ref] = make(map[int]bool)
			threads[ref] = len(p.Threads)
			for _, pipe := range p.Pipes {
				if pipe.Capacity < 0 {
					return invalid("%s: negative pipe capacity", ref)
				}
				if err := claim(ref, pipe.Read); err != nil {
					return err
				}
				if err := claim(ref, pipe.Write); err != nil {
					return err
				}
			}
			for _, f := range p.Files {
				if err := claim(ref, f.FD); err != nil {
					return err
				}
			}
			for _, tm := range p.Timers {
				if err := claim(ref, tm.FD); err != nil {
					return err
				}
			}
			for ti, t := range p.Threads {
				for oi, op := range t.Ops {
					if err := op.validate(); err != nil {
						return invalid("%s thread %d op %d: %v", ref, ti, oi, err)
					}
				}
			}
		}
	}

	conns := make(map[string]bool)
	for _, conn := range c.Connections {
		if conns[conn.Name] {
			return invalid("duplicate connection %q", conn.Name)
		}
		conns[conn.Name] = true
		if conn.Latency < 0 || conn.Buffer < 0 || conn.RecvTimeout < 0 {
			return invalid("connection %s: negative setting", conn.Name)
		}
		for _, ep := range []Endpoint{conn.A, conn.B} {
			if _, ok := fds[ep.Process]; !ok {
				return invalid("connection %s: unknown process %q", conn.Name, ep.Process)
			}
			if err := claim(ep.Process, ep.FD); err != nil {
				return err
			}
		}
	}

	for i, f := range c.Faults {
		if f.At < 0 {
			return invalid("fault %d: negative time", i)
		}
		switch f.Kind {
		case FaultClose, FaultKill:
			if _, ok := fds[f.Process]; !ok {
				return invalid("fault %d: unknown process %q", i, f.Process)
			}
			if f.TID < 0 || f.TID > threads[f.Process] {
				return invalid("fault %d: %s has no thread %d", i, f.Process, f.TID)
			}
		case FaultLatency, FaultPartition, FaultHeal:
			if !conns[f.Connection] {
				return invalid("fault %d: unknown connection %q", i, f.Connection)
			}
			if f.Latency < 0 {
				return invalid("fault %d: negative latency", i)
			}
		default:
			return invalid("fault %d: unknown kind %q", i, f.Kind)
		}
	}
	return nil
}

func (o Op) validate() error {
	if !ops[o.Op] {
		return fmt.Errorf("unknown op %q", o.Op)
	}
	if o.Repeat < 0 {
		return fmt.Errorf("negative repeat")
	}
	switch o.Op {
	case "sleep":
		if o.Duration < 0 {
			return fmt.Errorf("negative duration")
		}
	case "read", "recv":
		if o.Size <= 0 {
			return fmt.Errorf("%s needs a positive size", o.Op)
		}
	case "write", "send":
		if o.Data == "" {
			return fmt.Errorf("%s needs data", o.Op)
		}
	case "poll":
		if len(o.FDs) == 0 {
			return fmt.Errorf("poll needs fds")
		}
		for _, ev := range o.Events {
			if ev != "in" && ev != "out" {
				return fmt.Errorf("unknown poll event %q", ev)
			}
		}
	case "gettime":
		if !clocks[o.Clock] {
			return fmt.Errorf("unknown clock %q", o.Clock)
		}
	}
	return nil
}
