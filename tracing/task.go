package tracing

import "github.com/sarchlab/procsim/sim"

// A TaskStep represents a milestone in the processing of task
type TaskStep struct {
	Time sim.VTimeInSec `json:"time"`
	What string         `json:"what"`
}

// A Task is something that a process or a resource spends time on. Processes
// produce "process" tasks. Resources produce "wait" tasks for queued
// requests and "hold" tasks for granted units.
type Task struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id"`
	Kind      string         `json:"kind"`
	What      string         `json:"what"`
	Location  string         `json:"location"`
	StartTime sim.VTimeInSec `json:"start_time"`
	EndTime   sim.VTimeInSec `json:"end_time"`
	Steps     []TaskStep     `json:"steps"`
	Detail    interface{}    `json:"-"`
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// KindFilter accepts the tasks of the given kinds.
func KindFilter(kinds ...string) TaskFilter {
	return func(t Task) bool {
		for _, k := range kinds {
			if t.Kind == k {
				return true
			}
		}

		return false
	}
}

func accept(filter TaskFilter, task Task) bool {
	return filter == nil || filter(task)
}
