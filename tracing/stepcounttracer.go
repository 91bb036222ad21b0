package tracing

import (
	"sync"
)

// StepCountTracer counts the steps reported for a kind of task, such as the
// interruptions of processes or the preemptions of resource holders.
type StepCountTracer struct {
	filter            TaskFilter
	lock              sync.Mutex
	inflightTasks     map[string][]string
	stepNames         []string
	stepCount         map[string]uint64
	taskWithStepCount map[string]uint64
}

// NewStepCountTracer creates a new StepCountTracer
func NewStepCountTracer(filter TaskFilter) *StepCountTracer {
	return &StepCountTracer{
		filter:            filter,
		inflightTasks:     make(map[string][]string),
		stepCount:         make(map[string]uint64),
		taskWithStepCount: make(map[string]uint64),
	}
}

// GetStepNames returns all the step names collected.
func (t *StepCountTracer) GetStepNames() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.stepNames...)
}

// GetStepCount returns the number of steps that is recorded with a certain
// step name.
func (t *StepCountTracer) GetStepCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.stepCount[stepName]
}

// GetTaskCount returns the number of tasks that is recorded to have a certain
// step with a given name.
func (t *StepCountTracer) GetTaskCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.taskWithStepCount[stepName]
}

// StartTask starts following the steps of the task.
func (t *StepCountTracer) StartTask(task Task) {
	if !accept(t.filter, task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = nil
	t.lock.Unlock()
}

// StepTask counts the step if the task is followed.
func (t *StepCountTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	seen, ok := t.inflightTasks[task.ID]
	if !ok {
		return
	}

	for _, step := range task.Steps {
		if _, known := t.stepCount[step.What]; !known {
			t.stepNames = append(t.stepNames, step.What)
		}

		t.stepCount[step.What]++

		if !containsStep(seen, step.What) {
			t.taskWithStepCount[step.What]++
			seen = append(seen, step.What)
		}
	}

	t.inflightTasks[task.ID] = seen
}

func containsStep(steps []string, what string) bool {
	for _, s := range steps {
		if s == what {
			return true
		}
	}

	return false
}

// EndTask stops following the task.
func (t *StepCountTracer) EndTask(task Task) {
	t.lock.Lock()
	delete(t.inflightTasks, task.ID)
	t.lock.Unlock()
}
