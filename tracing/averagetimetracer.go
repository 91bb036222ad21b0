package tracing

import (
	"sync"

	"github.com/sarchlab/procsim/sim"
)

// AverageTimeTracer collects the time spent on a certain type of task. If the
// execution of two tasks overlaps, this tracer simply adds the two task
// processing time together. Tracing "wait" tasks of a resource gives the
// average queueing delay.
type AverageTimeTracer struct {
	timeTeller    sim.TimeTeller
	filter        TaskFilter
	lock          sync.Mutex
	totalTime     sim.VTimeInSec
	maxTime       sim.VTimeInSec
	inflightTasks map[string]sim.VTimeInSec
	taskCount     uint64
}

// NewAverageTimeTracer creates a new AverageTimeTracer
func NewAverageTimeTracer(
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *AverageTimeTracer {
	return &AverageTimeTracer{
		timeTeller:    timeTeller,
		filter:        filter,
		inflightTasks: make(map[string]sim.VTimeInSec),
	}
}

// AverageTime returns the average duration of the tasks that ended.
func (t *AverageTimeTracer) AverageTime() sim.VTimeInSec {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.taskCount == 0 {
		return 0
	}

	return t.totalTime / sim.VTimeInSec(t.taskCount)
}

// TotalTime returns the sum of the durations of the tasks that ended.
func (t *AverageTimeTracer) TotalTime() sim.VTimeInSec {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.totalTime
}

// MaxTime returns the longest duration of a task that ended.
func (t *AverageTimeTracer) MaxTime() sim.VTimeInSec {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.maxTime
}

// TotalCount returns the total number of tasks that ended.
func (t *AverageTimeTracer) TotalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.taskCount
}

// StartTask records the task start time
func (t *AverageTimeTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	if !accept(t.filter, task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = task.StartTime
	t.lock.Unlock()
}

// StepTask does nothing
func (t *AverageTimeTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the end of the task
func (t *AverageTimeTracer) EndTask(task Task) {
	task.EndTime = t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	start, ok := t.inflightTasks[task.ID]
	if !ok {
		return
	}

	d := task.EndTime - start
	t.totalTime += d
	if d > t.maxTime {
		t.maxTime = d
	}

	delete(t.inflightTasks, task.ID)
	t.taskCount++
}
