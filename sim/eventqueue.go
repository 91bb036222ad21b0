package sim

import (
	"container/heap"
)

// queueEntry is the scheduler view of an event: when it fires and which
// creation number breaks ties.
type queueEntry struct {
	time  VTimeInSec
	id    EventID
	event *Event
}

// EventQueue is a queue of events ordered by time and then by creation order.
type EventQueue struct {
	entries entryHeap
}

// NewEventQueue creates and returns a newly created EventQueue
func NewEventQueue() *EventQueue {
	q := new(EventQueue)
	q.entries = make([]queueEntry, 0)
	heap.Init(&q.entries)

	return q
}

// Push adds an event to the event queue, to fire at the given time.
func (q *EventQueue) Push(evt *Event, t VTimeInSec) {
	heap.Push(&q.entries, queueEntry{time: t, id: evt.id, event: evt})
}

// Pop returns the next earliest entry
func (q *EventQueue) Pop() (VTimeInSec, *Event) {
	e := heap.Pop(&q.entries).(queueEntry)
	return e.time, e.event
}

// Len returns the number of entries in the queue, including the ones that
// will be skipped.
func (q *EventQueue) Len() int {
	return q.entries.Len()
}

// Peek returns the entry in front of the queue without removing it.
func (q *EventQueue) Peek() (VTimeInSec, *Event) {
	e := q.entries[0]
	return e.time, e.event
}

// PeekTime returns the time of the entry in front of the queue.
func (q *EventQueue) PeekTime() VTimeInSec {
	return q.entries[0].time
}

type entryHeap []queueEntry

// Len returns the length of the event queue
func (h entryHeap) Len() int {
	return len(h)
}

// Less determines the order between two entries. Entries at the same time
// keep the creation order of their events.
func (h entryHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}

	return h[i].id < h[j].id
}

// Swap changes the position of two entries in the event queue
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

// Push adds an entry into the event queue
func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(queueEntry))
}

// Pop removes and returns the next entry to happen
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = queueEntry{}
	*h = old[0 : n-1]

	return entry
}
