package exchange

import (
	"container/heap"
	"sync"
	"time"
)

// deadlineQueue is a timer-ordered heap of (instant, CRN) pairs: offer
// expiries and lock windows. The sweeper pops whatever is due and sweeps only
// those courses. Stale entries are harmless; sweeping a course with nothing
// due is a no-op.
type deadlineQueue struct {
	mu sync.Mutex
	h  deadlineHeap
}

type deadline struct {
	at  time.Time
	crn string
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)        { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (d *deadlineQueue) schedule(at time.Time, crn string) {
	d.mu.Lock()
	heap.Push(&d.h, deadline{at: at, crn: crn})
	d.mu.Unlock()
}

// popDue removes every entry at or before now and returns the distinct CRNs.
func (d *deadlineQueue) popDue(now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var crns []string
	seen := make(map[string]bool)
	for d.h.Len() > 0 && !d.h[0].at.After(now) {
		dl := heap.Pop(&d.h).(deadline)
		if !seen[dl.crn] {
			seen[dl.crn] = true
			crns = append(crns, dl.crn)
		}
	}
	return crns
}

// next returns the earliest pending deadline.
func (d *deadlineQueue) next() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.h.Len() == 0 {
		return time.Time{}, false
	}
	return d.h[0].at, true
}

func (d *deadlineQueue) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.h.Len()
}
