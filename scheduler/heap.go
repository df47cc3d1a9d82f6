package scheduler

import "time"

// scheduleEntry is one live heap entry: a Schedule paired with its next
// fire time.
type scheduleEntry struct {
	schedule Schedule
	fireAt   time.Time
}

// scheduleHeap is a container/heap.Interface over scheduleEntry ordered by
// fireAt, giving the scheduler its next-due-first priority queue.
type scheduleHeap []*scheduleEntry

func (h scheduleHeap) Len() int { return len(h) }

func (h scheduleHeap) Less(i, j int) bool { return h[i].fireAt.Before(h[j].fireAt) }

func (h scheduleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scheduleHeap) Push(x any) {
	*h = append(*h, x.(*scheduleEntry))
}

func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}
