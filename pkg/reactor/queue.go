package reactor

import (
	"container/heap"
	"time"
)

type timer struct {
	id       Handle
	when     time.Duration
	interval time.Duration
	fn       func()
	index    int
}

// timerHeap orders timers by due time, then by registration order.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when == h[j].when {
		return h[i].id < h[j].id
	}
	return h[i].when < h[j].when
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// queue is the timer bookkeeping shared by Loop and Manual. It is not safe
// for concurrent use.
type queue struct {
	heap timerHeap
	byID map[Handle]*timer
	last Handle
	// dropMissed skips periods that are already over when a periodic timer
	// is rescheduled instead of firing them back to back.
	dropMissed bool
}

func newQueue(dropMissed bool) queue {
	return queue{byID: make(map[Handle]*timer), dropMissed: dropMissed}
}

func (q *queue) add(at, interval time.Duration, fn func()) Handle {
	q.last++
	t := &timer{id: q.last, when: at, interval: interval, fn: fn}
	heap.Push(&q.heap, t)
	q.byID[t.id] = t
	return t.id
}

func (q *queue) cancel(h Handle) {
	t, ok := q.byID[h]
	if !ok {
		return
	}
	heap.Remove(&q.heap, t.index)
	delete(q.byID, h)
}

// next returns the due time of the earliest timer.
func (q *queue) next() (time.Duration, bool) {
	if len(q.heap) == 0 {
		return 0, false
	}
	return q.heap[0].when, true
}

// popDue removes the earliest timer if it is due at now and returns its
// callback together with its due time. A periodic timer is put back for its
// next period before the callback runs.
func (q *queue) popDue(now time.Duration) (func(), time.Duration, bool) {
	if len(q.heap) == 0 || q.heap[0].when > now {
		return nil, 0, false
	}
	t := q.heap[0]
	when := t.when
	if t.interval > 0 {
		t.when += t.interval
		for q.dropMissed && t.when <= now {
			t.when += t.interval
		}
		heap.Fix(&q.heap, 0)
	} else {
		heap.Pop(&q.heap)
		delete(q.byID, t.id)
	}
	return t.fn, when, true
}

func (q *queue) len() int {
	return len(q.heap)
}
