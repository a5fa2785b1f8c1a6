package simruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
)

var (
	ErrAborted  = errors.New("simulation aborted")
	ErrDeadlock = errors.New("all tasks blocked")
)

// A Task is a unit of simulated execution, such as a simulated thread. The
// scheduler calls Step whenever the task has been marked ready. Implementations
// embed TaskState.
type Task interface {
	Step()
	taskState() *TaskState
}

// TaskState holds the scheduler's bookkeeping for a Task.
type TaskState struct {
	id          int
	liveIdx     intrusiveIndex
	runnableIdx intrusiveIndex
}

func (ts *TaskState) taskState() *TaskState { return ts }

// ID returns the scheduler-assigned id of the task, or 0 before Spawn.
func (ts *TaskState) ID() int { return ts.id }

// intrusiveIndex is the position of an element in an intrusiveList plus one,
// so that the zero value means "not in the list".
type intrusiveIndex struct{ pos int }

type intrusiveList[A any] []A

func (l *intrusiveList[A]) add(elem A, idxFunc func(elem A) *intrusiveIndex) {
	if idxFunc(elem).pos != 0 {
		panic("element already in list")
	}
	*l = append(*l, elem)
	idxFunc(elem).pos = len(*l)
}

func (l *intrusiveList[A]) remove(elem A, idxFunc func(elem A) *intrusiveIndex) {
	old := idxFunc(elem).pos - 1
	if old == -1 {
		panic("element not in list")
	}
	n := len(*l)
	replacement := (*l)[n-1]
	(*l)[old] = replacement
	idxFunc(replacement).pos = old + 1
	var zero A
	(*l)[n-1] = zero
	*l = (*l)[:n-1]
	idxFunc(elem).pos = 0
}

func liveIdx(t Task) *intrusiveIndex     { return &t.taskState().liveIdx }
func runnableIdx(t Task) *intrusiveIndex { return &t.taskState().runnableIdx }

// A Scheduler is a single-threaded discrete-event loop. It owns the simulated
// clock, the timer heap, and the set of runnable tasks. Nothing on a Scheduler
// is safe for use from multiple goroutines; independent simulations each get
// their own Scheduler.
type Scheduler struct {
	seed int64

	live       intrusiveList[Task]
	runnable   intrusiveList[Task]
	current    Task
	nextTaskID int

	clock  *clock
	rand   fastrander
	stopAt int64
	steps  int

	checksummer *checksummer
	logger      *slog.Logger

	abortErr error
}

// An Option configures a Scheduler.
type Option func(s *Scheduler)

// WithLogHandler sends scheduler and simulation logs to h. Records are stamped
// with simulated time.
func WithLogHandler(h slog.Handler) Option {
	return func(s *Scheduler) {
		s.logger = slog.New(wrapHandler{inner: h, s: s})
	}
}

// WithStopTime ends the simulation once the simulated clock reaches d after
// Epoch, even if tasks are still blocked.
func WithStopTime(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopAt = Epoch.UnixNano() + int64(d)
		}
	}
}

func NewScheduler(seed int64, opts ...Option) *Scheduler {
	s := &Scheduler{
		seed:       seed,
		live:       make(intrusiveList[Task], 0, 64),
		runnable:   make(intrusiveList[Task], 0, 64),
		nextTaskID: 1,
		clock:      newClock(),
		rand:       fastrander{state: uint64(seed)},
	}
	s.logger = slog.New(wrapHandler{inner: discardHandler{}, s: s})
	for _, opt := range opts {
		opt(s)
	}
	s.checksummer = newChecksummer(s.logger)
	return s
}

func (s *Scheduler) Seed() int64 { return s.seed }

// Now returns the simulated time in unix nanoseconds.
func (s *Scheduler) Now() int64 { return s.clock.now }

// Elapsed returns the simulated time since Epoch.
func (s *Scheduler) Elapsed() time.Duration {
	return time.Duration(s.clock.now - Epoch.UnixNano())
}

func (s *Scheduler) Logger() *slog.Logger { return s.logger }

// Current returns the task whose Step is running, or nil.
func (s *Scheduler) Current() Task { return s.current }

// Steps returns the number of task steps taken so far.
func (s *Scheduler) Steps() int { return s.steps }

// Intn returns a value in [0, n) from the scheduler's seeded generator.
func (s *Scheduler) Intn(n int) int {
	if n <= 0 {
		panic("Intn: n must be positive")
	}
	return int(s.rand.fastrandn(uint32(n)))
}

// Spawn registers a new live task and marks it ready.
func (s *Scheduler) Spawn(t Task) {
	ts := t.taskState()
	if ts.id != 0 {
		panic("task spawned twice")
	}
	ts.id = s.nextTaskID
	s.nextTaskID++
	s.live.add(t, liveIdx)
	s.runnable.add(t, runnableIdx)
}

// Exit removes a task. It will not be stepped again.
func (s *Scheduler) Exit(t Task) {
	ts := t.taskState()
	if ts.runnableIdx.pos != 0 {
		s.runnable.remove(t, runnableIdx)
	}
	if ts.liveIdx.pos != 0 {
		s.live.remove(t, liveIdx)
	}
}

// Ready marks a live task runnable. Calling Ready on a task that is already
// runnable or has exited does nothing.
func (s *Scheduler) Ready(t Task) {
	ts := t.taskState()
	if ts.liveIdx.pos == 0 || ts.runnableIdx.pos != 0 {
		return
	}
	s.runnable.add(t, runnableIdx)
}

// StopOwner cancels all pending timers owned by owner.
func (s *Scheduler) StopOwner(owner any) {
	s.clock.heap.removeowner(owner)
}

// Abort stops the simulation after the current step. The first error wins.
func (s *Scheduler) Abort(err error) {
	if s.abortErr == nil {
		s.abortErr = fmt.Errorf("%w: %w", ErrAborted, err)
	}
}

// Record folds an externally observed event, such as a syscall outcome, into
// the run checksum.
func (s *Scheduler) Record(data []byte) {
	s.checksummer.recordBytes(checksumKeyEvent, data)
}

// Checksum returns the determinism checksum of everything run so far.
func (s *Scheduler) Checksum() []byte {
	return s.checksummer.finalize()
}

// Run runs the loop until no live tasks remain, the stop time is reached, ctx
// is done, or the simulation aborts. A panic inside a task step or timer
// handler aborts the simulation and is returned wrapped in ErrAborted.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.loop(ctx, s.stopAt, false)
}

// RunFor runs the loop for the simulated duration d, firing timers even when
// no tasks are live.
func (s *Scheduler) RunFor(ctx context.Context, d time.Duration) error {
	return s.loop(ctx, s.clock.now+int64(d), true)
}

func (s *Scheduler) loop(ctx context.Context, stopAt int64, idle bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.current = nil
			err = s.recovered(r)
		}
	}()

	for (len(s.live) > 0 || idle) && s.abortErr == nil {
		if err := ctx.Err(); err != nil {
			return err
		}

		for s.abortErr == nil {
			t, ok := s.clock.maybefire()
			if !ok {
				break
			}
			s.checksummer.recordIntInt(checksumKeyTimerFired, uint64(t.when), t.seq)
			t.handler(t)
		}
		if s.abortErr != nil {
			break
		}
		// a timer handler may have exited the last task
		if len(s.live) == 0 && !idle {
			break
		}

		if len(s.runnable) == 0 {
			if !s.clock.anyWaiting() || (stopAt != 0 && s.clock.next() > stopAt) {
				if stopAt != 0 {
					s.clock.now = max(s.clock.now, stopAt)
					return nil
				}
				return fmt.Errorf("%w: %s", ErrDeadlock, s.describeLive())
			}
			s.clock.doadvance()
			s.checksummer.recordIntInt(checksumKeyTimeNow, uint64(s.clock.now), 0)
			continue
		}

		pick := s.runnable[s.rand.fastrandn(uint32(len(s.runnable)))]
		s.runnable.remove(pick, runnableIdx)
		s.checksummer.recordIntInt(checksumKeyRunPick, uint64(pick.taskState().id), s.rand.state)

		s.current = pick
		pick.Step()
		s.current = nil
		s.steps++
	}

	return s.abortErr
}

func (s *Scheduler) recovered(r any) error {
	s.logger.Error("simulation aborted", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
	if err, ok := r.(error); ok {
		s.Abort(err)
	} else {
		s.Abort(fmt.Errorf("%v", r))
	}
	return s.abortErr
}

func (s *Scheduler) describeLive() string {
	var names []string
	for _, t := range s.live {
		if str, ok := t.(fmt.Stringer); ok {
			names = append(names, str.String())
		} else {
			names = append(names, fmt.Sprintf("task %d", t.taskState().id))
		}
	}
	return strings.Join(names, ", ")
}
