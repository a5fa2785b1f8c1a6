//go:build linux && amd64

package simulation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/linux"
	"github.com/kmrgirish/simcall/internal/simulation/syscall"
	"github.com/kmrgirish/simcall/internal/simulation/syscallabi"
	"github.com/kmrgirish/simcall/simruntime"
)

type recorder struct {
	events []Event
}

func (r *recorder) Trace(e Event) { r.events = append(r.events, e) }

func (r *recorder) lines() []string {
	var out []string
	for _, e := range r.events {
		out = append(out, e.String())
	}
	return out
}

func newTestSimulation(t *testing.T, seed int64, opts ...Option) (*Simulation, *Host) {
	t.Helper()
	sim := New(simruntime.NewScheduler(seed), opts...)
	h, err := sim.NewHost("a")
	if err != nil {
		t.Fatal(err)
	}
	return sim, h
}

func run(t *testing.T, sim *Simulation) {
	t.Helper()
	if err := sim.Scheduler().Run(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestPipeBetweenThreads(t *testing.T) {
	rec := &recorder{}
	sim, h := newTestSimulation(t, 1, WithTracer(rec))
	p := h.NewProcess()
	rfd, wfd := p.NewPipe(0)

	reader := NewScript(Op{Kind: OpRead, FD: rfd, Size: 16})
	writer := NewScript(
		Op{Kind: OpSleep, Duration: time.Second},
		Op{Kind: OpWrite, FD: wfd, Data: []byte("hi")},
	)
	p.Spawn(reader)
	p.Spawn(writer)
	run(t, sim)

	if got := string(reader.Received()); got != "hi" {
		t.Errorf("received %q", got)
	}
	if got := sim.Scheduler().Elapsed(); got != time.Second {
		t.Errorf("elapsed = %v, want 1s", got)
	}
	if !p.Exited() || p.Descriptors().Len() != 0 {
		t.Error("process did not exit and close its descriptors")
	}

	var reads []string
	for _, e := range rec.events {
		if e.Syscall == "read" {
			reads = append(reads, e.String())
		}
	}
	want := []string{"0s a/1000 read blocked", "1s a/1000 read = 2"}
	if diff := cmp.Diff(want, reads); diff != "" {
		t.Error(diff)
	}
}

func TestSocketAcrossHosts(t *testing.T) {
	sim, a := newTestSimulation(t, 2)
	b, err := sim.NewHost("b")
	if err != nil {
		t.Fatal(err)
	}
	pa, pb := a.NewProcess(), b.NewProcess()
	fdA, fdB, _, _ := sim.Connect(pa, pb, 25*time.Millisecond, 0)

	client := NewScript(
		Op{Kind: OpSend, FD: fdA, Data: []byte("ping")},
		Op{Kind: OpRecv, FD: fdA, Size: 8},
	)
	server := NewScript(
		Op{Kind: OpRecv, FD: fdB, Size: 8},
		Op{Kind: OpSend, FD: fdB, Data: []byte("pong")},
		Op{Kind: OpRecv, FD: fdB, Size: 8},
	)
	pa.Spawn(client)
	pb.Spawn(server)
	run(t, sim)

	if got := string(server.Received()); got != "ping" {
		t.Errorf("server received %q", got)
	}
	if got := string(client.Received()); got != "pong" {
		t.Errorf("client received %q", got)
	}
	// The client exits after the round trip, closing its end; the
	// server's last recv sees end of stream one latency later.
	last := server.Results()[2]
	if last.Return.Value != 0 || last.Return.Errno != 0 {
		t.Errorf("last recv = %v, want EOF", last.Return)
	}
	if got := sim.Scheduler().Elapsed(); got != 75*time.Millisecond {
		t.Errorf("elapsed = %v, want 75ms", got)
	}
}

func TestPollTimesOut(t *testing.T) {
	sim, h := newTestSimulation(t, 3)
	p := h.NewProcess()
	rfd, _ := p.NewPipe(0)

	script := NewScript(
		Op{Kind: OpPoll, FDs: []int{rfd}, Timeout: 250},
		Op{Kind: OpGettime, Clock: unix.CLOCK_MONOTONIC},
	)
	p.Spawn(script)
	run(t, sim)

	results := script.Results()
	if results[0].Return.Value != 0 {
		t.Errorf("poll = %v, want 0", results[0].Return)
	}
	if got := time.Duration(results[1].Time); got != 250*time.Millisecond {
		t.Errorf("gettime = %v, want 250ms", got)
	}
}

func TestDeadlockNamesBlockedThread(t *testing.T) {
	sim, h := newTestSimulation(t, 4)
	p := h.NewProcess()
	rfd, _ := p.NewPipe(0)
	p.Spawn(NewScript(Op{Kind: OpRead, FD: rfd, Size: 1}))

	err := sim.Scheduler().Run(context.Background())
	if !errors.Is(err, simruntime.ErrDeadlock) {
		t.Fatalf("err = %v, want deadlock", err)
	}
	if !strings.Contains(err.Error(), "a/1000 blocked in read") {
		t.Errorf("err = %v does not name the blocked thread", err)
	}
}

func TestKillReleasesHandler(t *testing.T) {
	sim, h := newTestSimulation(t, 5)
	p := h.NewProcess()
	rfd, _ := p.NewPipe(0)
	th := p.Spawn(NewScript(Op{Kind: OpRead, FD: rfd, Size: 1}))

	sim.Scheduler().AfterFunc(time.Second, func() {
		if refs := th.Handler().Refs(); refs != 2 {
			t.Errorf("refs while blocked = %d, want 2", refs)
		}
		th.Kill()
	})
	run(t, sim)

	if th.Handler().Valid() || !th.Exited() {
		t.Error("killed thread kept its handler")
	}
}

func TestDeterministicTrace(t *testing.T) {
	runOnce := func(seed int64) ([]string, []byte) {
		rec := &recorder{}
		sim, h := newTestSimulation(t, seed, WithTracer(rec))
		p := h.NewProcess()
		rfd, wfd := p.NewPipe(4)
		for i := 0; i < 3; i++ {
			p.Spawn(NewScript(
				Op{Kind: OpWrite, FD: wfd, Data: []byte("abc")},
				Op{Kind: OpGettid},
			))
		}
		p.Spawn(NewScript(
			Op{Kind: OpRead, FD: rfd, Size: 4},
			Op{Kind: OpPoll, FDs: []int{rfd}, Timeout: 10},
		))
		run(t, sim)
		return rec.lines(), sim.Scheduler().Checksum()
	}

	lines1, sum1 := runOnce(42)
	lines2, sum2 := runOnce(42)
	if diff := cmp.Diff(lines1, lines2); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff(sum1, sum2); diff != "" {
		t.Error(diff)
	}
}

func TestProtocolViolationAborts(t *testing.T) {
	table := syscall.NewTable()
	linux.Register(table)
	const buggy = 500
	table.Register(buggy, "buggy", func(h *syscall.Handler, args *syscallabi.Args) syscallabi.Return {
		if !h.WasBlocked() {
			h.SetListenTimeoutMillis(10)
			return syscallabi.Block(nil)
		}
		// Re-entering the handler for another call while blocked.
		return h.Make(&syscallabi.Args{Number: unix.SYS_GETPID})
	})

	sim, h := newTestSimulation(t, 6, WithTable(table))
	p := h.NewProcess()
	calls := 0
	p.Spawn(ProgramFunc(func(t *Thread, last syscallabi.Return) (syscallabi.Args, bool) {
		calls++
		return syscallabi.Args{Number: buggy}, calls == 1
	}))

	err := sim.Scheduler().Run(context.Background())
	var pv *syscall.ProtocolViolation
	if !errors.Is(err, simruntime.ErrAborted) || !errors.As(err, &pv) {
		t.Fatalf("err = %v, want aborted protocol violation", err)
	}
}

func TestDuplicateHost(t *testing.T) {
	sim, _ := newTestSimulation(t, 1)
	if _, err := sim.NewHost("a"); err == nil {
		t.Error("duplicate host accepted")
	}
	if h, _ := sim.NewHost(""); h.Name() != "host-2" {
		t.Errorf("generated name %q", h.Name())
	}
}

func TestIDsUniqueOnHost(t *testing.T) {
	sim, h := newTestSimulation(t, 1)
	p1 := h.NewProcess()
	main1 := p1.Spawn(NewScript(Op{Kind: OpGettid}))
	second := p1.Spawn(NewScript(Op{Kind: OpGettid}))
	p2 := h.NewProcess()
	main2 := p2.Spawn(NewScript(Op{Kind: OpGettid}))
	third := p1.Spawn(NewScript(Op{Kind: OpGettid}))
	run(t, sim)

	if main1.TID() != p1.PID() || main2.TID() != p2.PID() {
		t.Errorf("main threads %d %d, want their pids %d %d", main1.TID(), main2.TID(), p1.PID(), p2.PID())
	}
	want := []int{1000, 1001, 1002, 1003}
	got := []int{p1.PID(), second.TID(), p2.PID(), third.TID()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
}
