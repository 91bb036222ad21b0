package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrEventCancelled is delivered to a process that waits on an event that
	// has already been cancelled.
	ErrEventCancelled = errors.New("event cancelled")

	// ErrEngineRunning is returned when Run is called while the engine is
	// already running, for example from inside a process step.
	ErrEngineRunning = errors.New("engine is already running")
)

// NegativeDurationError is returned when a timeout with a negative duration
// is requested.
type NegativeDurationError struct {
	Duration VTimeInSec
}

func (e *NegativeDurationError) Error() string {
	return fmt.Sprintf("negative duration %v", float64(e.Duration))
}

// AlreadyTriggeredError is returned when an event that left the pending state
// is triggered again, or when a waiter registers on a processed event.
type AlreadyTriggeredError struct {
	Event *Event
	Op    string
}

func (e *AlreadyTriggeredError) Error() string {
	state := e.Event.State().String()
	switch {
	case e.Event.Processed():
		state = "processed"
	case e.Event.scheduled && e.Event.state == EventPending:
		state = "scheduled"
	}

	return fmt.Sprintf("cannot %s event %s: already %s", e.Op, e.Event, state)
}

// NotWaitingError is returned when interrupting a process that is not
// suspended on an event.
type NotWaitingError struct {
	Process *Process
}

func (e *NotWaitingError) Error() string {
	return fmt.Sprintf("process %s is not waiting (state %s)",
		e.Process, e.Process.State())
}

// InterruptError is the failure a process observes when it is interrupted.
// If the cause is an error, it is reachable through errors.As and errors.Is.
type InterruptError struct {
	Cause any
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("interrupted: %v", e.Cause)
}

func (e *InterruptError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}

	return nil
}

// PanicError captures a panic raised inside a process step.
type PanicError struct {
	Process string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("process %s panicked: %v", e.Process, e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}

	return nil
}

// IsInterrupt tells if the error is caused by an interruption.
func IsInterrupt(err error) bool {
	var interrupt *InterruptError
	return errors.As(err, &interrupt)
}
