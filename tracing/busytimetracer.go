package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/procsim/sim"
)

type interval struct {
	start, end sim.VTimeInSec
}

// BusyTimeTracer traces the time that a domain is processing a kind of task.
// If the task processing time overlaps, this tracer only consider one
// instance of the overlapped time. For a resource, tracing "hold" tasks gives
// the time at least one unit was in use.
type BusyTimeTracer struct {
	timeTeller sim.TimeTeller
	filter     TaskFilter

	lock          sync.Mutex
	inflightTasks map[string]sim.VTimeInSec
	finished      []interval
	busyTime      sim.VTimeInSec
}

// NewBusyTimeTracer creates a new BusyTimeTracer
func NewBusyTimeTracer(
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *BusyTimeTracer {
	return &BusyTimeTracer{
		timeTeller:    timeTeller,
		filter:        filter,
		inflightTasks: make(map[string]sim.VTimeInSec),
	}
}

// BusyTime returns the total time has been spent on a certain type of tasks.
// Tasks still running are not counted until they end or are terminated.
func (t *BusyTimeTracer) BusyTime() sim.VTimeInSec {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.busyTime
}

// TerminateAllTasks ends all the running tasks at the given time.
func (t *BusyTimeTracer) TerminateAllTasks(now sim.VTimeInSec) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for id, start := range t.inflightTasks {
		t.finished = append(t.finished, interval{start: start, end: now})
		delete(t.inflightTasks, id)
	}

	t.collapse()
}

// StartTask records the task start time
func (t *BusyTimeTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	if !accept(t.filter, task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = task.StartTime
	t.lock.Unlock()
}

// StepTask does nothing
func (t *BusyTimeTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the end of the task
func (t *BusyTimeTracer) EndTask(task Task) {
	task.EndTime = t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	start, ok := t.inflightTasks[task.ID]
	if !ok {
		return
	}

	delete(t.inflightTasks, task.ID)
	t.finished = append(t.finished, interval{start: start, end: task.EndTime})

	t.collapse()
}

// collapse merges the finished intervals and moves the merged ones that no
// running task can overlap any more into the busy time.
func (t *BusyTimeTracer) collapse() {
	horizon, running := t.earliestInflightStart()

	sort.Slice(t.finished, func(i, j int) bool {
		return t.finished[i].start < t.finished[j].start
	})

	var merged []interval
	for _, iv := range t.finished {
		n := len(merged)
		if n > 0 && iv.start <= merged[n-1].end {
			if iv.end > merged[n-1].end {
				merged[n-1].end = iv.end
			}

			continue
		}

		merged = append(merged, iv)
	}

	t.finished = t.finished[:0]

	for _, iv := range merged {
		if running && iv.end >= horizon {
			t.finished = append(t.finished, iv)
			continue
		}

		t.busyTime += iv.end - iv.start
	}
}

func (t *BusyTimeTracer) earliestInflightStart() (sim.VTimeInSec, bool) {
	var earliest sim.VTimeInSec

	found := false
	for _, start := range t.inflightTasks {
		if !found || start < earliest {
			earliest = start
			found = true
		}
	}

	return earliest, found
}
