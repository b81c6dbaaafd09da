// Package eventqueue is the discrete-event primitive described in
// spec.md §9 DESIGN NOTES: a min-heap of (tick, seq, callback), with seq
// providing a stable tie-break for events scheduled at the same tick.
//
// This is adapted from the timer heap in the teacher's event loop
// (eventloop/loop.go's timerHeap, built on container/heap over
// (time.Time, Task)) but drops every real-concurrency primitive the
// teacher needed for wall-clock, multi-goroutine I/O scheduling (no
// atomics, no OS thread locking, no epoll/kqueue poller, no wakeup pipe):
// spec.md §5 calls for a single cooperative thread driven by an integer
// tick counter, so the heap here is ordered on a plain int64 tick plus a
// monotonic sequence number instead of time.Time.
package eventqueue

import "container/heap"

// Tick is the simulator's unit of discrete time.
type Tick int64

// Func is a scheduled callback. It receives the tick at which it fires.
type Func func(tick Tick)

type entry struct {
	tick Tick
	seq  uint64
	fn   Func
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].tick != h[j].tick {
		return h[i].tick < h[j].tick
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Queue is a deterministic, single-threaded priority queue of callbacks
// keyed by tick. It is NOT safe for concurrent use: spec.md §5 requires
// a cooperative, single-threaded scheduler and nothing here needs locks.
type Queue struct {
	heap    entryHeap
	nextSeq uint64
}

// New returns an empty event queue.
func New() *Queue {
	return &Queue{heap: make(entryHeap, 0, 16)}
}

// At schedules fn to fire at the given tick. Events scheduled at the same
// tick fire in the order they were scheduled (FIFO tie-break via seq).
func (q *Queue) At(tick Tick, fn Func) {
	q.nextSeq++
	heap.Push(&q.heap, entry{tick: tick, seq: q.nextSeq, fn: fn})
}

// After schedules fn to fire delay ticks after current.
func (q *Queue) After(current Tick, delay int64, fn Func) {
	if delay < 1 {
		delay = 1
	}
	q.At(current+Tick(delay), fn)
}

// Len returns the number of pending events.
func (q *Queue) Len() int { return len(q.heap) }

// Empty reports whether the queue has no pending events.
func (q *Queue) Empty() bool { return len(q.heap) == 0 }

// PeekTick returns the tick of the next event, and whether one exists.
func (q *Queue) PeekTick() (Tick, bool) {
	if len(q.heap) == 0 {
		return 0, false
	}
	return q.heap[0].tick, true
}

// DrainTick pops and fires every event scheduled at exactly the given tick,
// in scheduling order. It returns the number of events fired. Any events a
// fired callback schedules for the SAME tick are also fired before
// DrainTick returns (callbacks may chain further events within a tick,
// e.g. gen_EP_routine scheduling request_handler_routine for "next tick",
// which is a different tick and so is left for the next DrainTick call).
func (q *Queue) DrainTick(tick Tick) int {
	n := 0
	for {
		t, ok := q.PeekTick()
		if !ok || t != tick {
			break
		}
		e := heap.Pop(&q.heap).(entry)
		e.fn(tick)
		n++
	}
	return n
}

// Clear empties the queue, discarding all pending events (used on
// simulation termination or truncation at the end time, per spec.md §5's
// cancellation/timeout semantics: "completion events scheduled past
// [sim end] are discarded").
func (q *Queue) Clear() {
	q.heap = q.heap[:0]
}

// Run drives the queue from startTick forward, calling DrainTick for every
// tick that has pending events (skipping empty ticks) until the queue is
// empty or tick reaches endTick (inclusive of endTick's own events, but no
// tick beyond it is ever drained: events scheduled past endTick are
// silently discarded by virtue of never being reached).
func Run(q *Queue, endTick Tick) {
	for {
		t, ok := q.PeekTick()
		if !ok || t > endTick {
			return
		}
		q.DrainTick(t)
	}
}
