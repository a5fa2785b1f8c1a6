package simruntime

import (
	"container/heap"
)

// timers implements heap.Interface. Timers with the same deadline fire in the
// order they were scheduled.
type timers []*Timer

func (h timers) Len() int { return len(h) }

func (h timers) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	return h[i].seq < h[j].seq
}

func (h timers) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *timers) Push(x any) {
	t := x.(*Timer)
	if t.pos != -1 {
		panic(t.pos)
	}
	t.pos = len(*h)
	*h = append(*h, t)
}

func (h *timers) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	x.pos = -1
	return x
}

type timerHeap struct {
	timers  timers
	nextSeq uint64
}

func newTimerHeap() *timerHeap {
	return &timerHeap{}
}

func (h *timerHeap) add(t *Timer) {
	t.seq = h.nextSeq
	h.nextSeq++
	heap.Push(&h.timers, t)
}

func (h *timerHeap) adjust(t *Timer, when int64) {
	if t.pos == -1 || h.timers[t.pos] != t {
		panic(t)
	}
	t.when = when
	t.seq = h.nextSeq
	h.nextSeq++
	heap.Fix(&h.timers, t.pos)
}

func (h *timerHeap) remove(t *Timer) {
	if t.pos == -1 || h.timers[t.pos] != t {
		panic(t)
	}
	heap.Remove(&h.timers, t.pos)
}

func (h *timerHeap) len() int {
	return len(h.timers)
}

func (h *timerHeap) pop() *Timer {
	return heap.Pop(&h.timers).(*Timer)
}

func (h *timerHeap) peek() *Timer {
	return h.timers[0]
}

// removeowner drops all timers belonging to owner without firing them.
func (h *timerHeap) removeowner(owner any) {
	j := 0
	for i := range h.timers {
		if h.timers[i].Owner == owner {
			h.timers[i].pos = -1
			continue
		}
		h.timers[j] = h.timers[i]
		h.timers[j].pos = j
		j++
	}
	for i := j; i < len(h.timers); i++ {
		h.timers[i] = nil
	}
	h.timers = h.timers[:j]
	heap.Init(&h.timers)
}
