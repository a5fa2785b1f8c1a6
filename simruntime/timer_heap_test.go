package simruntime

import (
	"slices"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestTimerHeap(t *testing.T) {
	baseTime := Epoch.UnixNano()

	heap := newTimerHeap()
	first := &Timer{when: baseTime + int64(0*time.Second), pos: -1}
	heap.add(first)
	if first.pos != 0 {
		t.Errorf("expected pos 0, got %d", first.pos)
	}
	a := &Timer{when: baseTime + int64(1*time.Second), pos: -1}
	heap.add(a)
	heap.add(&Timer{when: baseTime + int64(2*time.Second), pos: -1})
	b := &Timer{when: baseTime + int64(3*time.Second), pos: -1}
	heap.add(b)
	if l := heap.len(); l != 4 {
		t.Errorf("expected heap.len() = 4, got %d", l)
	}

	if e := heap.pop(); e.when != baseTime+int64(0*time.Second) {
		t.Errorf("expected t+0s, got %v", e.when-baseTime)
	}
	if e := heap.peek(); e.when != baseTime+int64(1*time.Second) {
		t.Errorf("expected t+1s, got %v", e.when-baseTime)
	}

	heap.adjust(a, baseTime+int64(4*time.Second))

	if e := heap.pop(); e.when != baseTime+int64(2*time.Second) {
		t.Errorf("expected t+2s, got %v", e.when-baseTime)
	}

	heap.remove(b)
	heap.add(&Timer{when: baseTime + int64(5*time.Second), pos: -1})

	if e := heap.pop(); e.when != baseTime+int64(4*time.Second) {
		t.Errorf("expected t+4s, got %v", e.when-baseTime)
	}
	if e := heap.pop(); e.when != baseTime+int64(5*time.Second) {
		t.Errorf("expected t+5s, got %v", e.when-baseTime)
	}
}

func TestTimerHeapTiesFireInScheduleOrder(t *testing.T) {
	heap := newTimerHeap()
	var added []*Timer
	for i := 0; i < 5; i++ {
		timer := &Timer{when: 10, pos: -1}
		heap.add(timer)
		added = append(added, timer)
	}
	for i, want := range added {
		if got := heap.pop(); got != want {
			t.Errorf("pop %d: got timer with seq %d, want seq %d", i, got.seq, want.seq)
		}
	}
}

func TestCheckTimerHeap(t *testing.T) {
	rapid.Check(t, checkTimerHeap)
}

func checkTimerHeap(t *rapid.T) {
	heap := newTimerHeap()
	var model []*Timer

	owners := []string{"a", "b", "c"}

	earliest := func(got *Timer) {
		for _, other := range model {
			if other.when < got.when || (other.when == got.when && other.seq < got.seq) {
				t.Errorf("found earlier timer %d/%d than returned %d/%d", other.when, other.seq, got.when, got.seq)
			}
		}
	}

	t.Repeat(map[string]func(t *rapid.T){
		"add": func(t *rapid.T) {
			when := rapid.Int64Range(0, 100).Draw(t, "when")
			owner := rapid.SampledFrom(owners).Draw(t, "owner")
			timer := &Timer{when: when, Owner: owner, pos: -1}
			model = append(model, timer)
			heap.add(timer)
		},
		"peek": func(t *rapid.T) {
			if heap.len() == 0 {
				t.Skip()
			}
			earliest(heap.peek())
		},
		"pop": func(t *rapid.T) {
			if heap.len() == 0 {
				t.Skip()
			}
			got := heap.pop()
			earliest(got)
			if got.pos != -1 {
				t.Error("expected pos -1 after pop")
			}
			model = slices.DeleteFunc(model, func(t *Timer) bool { return t == got })
		},
		"adjust": func(t *rapid.T) {
			if heap.len() == 0 {
				t.Skip()
			}
			timer := rapid.SampledFrom(model).Draw(t, "timer")
			heap.adjust(timer, rapid.Int64Range(0, 100).Draw(t, "when"))
		},
		"remove-owner": func(t *rapid.T) {
			owner := rapid.SampledFrom(owners).Draw(t, "owner")
			heap.removeowner(owner)
			for _, timer := range model {
				if timer.Owner == owner && timer.pos != -1 {
					t.Error("expected pos -1 after removeowner")
				}
			}
			model = slices.DeleteFunc(model, func(t *Timer) bool { return t.Owner == owner })
		},
		"": func(t *rapid.T) {
			if expected, actual := len(model), heap.len(); expected != actual {
				t.Errorf("length mismatch: expected %d, got %d", expected, actual)
			}
			for _, timer := range model {
				if timer.pos < 0 || timer.pos >= len(heap.timers) || heap.timers[timer.pos] != timer {
					t.Errorf("wrong pos for timer")
				}
			}
		},
	})
}
