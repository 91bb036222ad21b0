package sim

import "fmt"

// ProcessID identifies a process within one engine.
type ProcessID uint64

// ProcessState is the lifecycle state of a process.
type ProcessState int

// A process alternates between running and waiting until it finishes or
// fails.
const (
	ProcessCreated ProcessState = iota
	ProcessRunning
	ProcessWaiting
	ProcessFinished
	ProcessFailed
)

func (s ProcessState) String() string {
	switch s {
	case ProcessCreated:
		return "created"
	case ProcessRunning:
		return "running"
	case ProcessWaiting:
		return "waiting"
	case ProcessFinished:
		return "finished"
	case ProcessFailed:
		return "failed"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// Outcome is what a process observes when it is resumed.
type Outcome struct {
	Value any
	Err   error

	// Event is the event whose processing resumed the process.
	Event *Event
}

// Failed tells if the outcome carries a failure.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// A Step is one stretch of process logic between two suspension points. It
// receives the outcome of the previous wait and returns what to wait on next
// together with the step to continue with.
type Step func(p *Process, o Outcome) Yield

type yieldKind int

const (
	yieldExit yieldKind = iota
	yieldFail
	yieldWait
)

// A Yield tells the engine what a process does after a step. The zero Yield
// finishes the process with a nil value.
type Yield struct {
	kind  yieldKind
	event *Event
	next  Step
	value any
	err   error
}

// A Process is a suspendable unit of user logic. It is stored as data in the
// engine: its state, the event it waits on and the step to run next.
type Process struct {
	id     ProcessID
	name   string
	engine *SerialEngine

	state            ProcessState
	next             Step
	waitingOn        EventID
	interruptPending bool
	done             *Event

	createdAt VTimeInSec
	endedAt   VTimeInSec
	value     any
	err       error
}

// ID returns the id of the process.
func (p *Process) ID() ProcessID {
	return p.id
}

// Name returns the name of the process.
func (p *Process) Name() string {
	return p.name
}

func (p *Process) String() string {
	return fmt.Sprintf("%s#%d", p.name, p.id)
}

// State returns the lifecycle state of the process.
func (p *Process) State() ProcessState {
	return p.state
}

// Engine returns the engine that runs the process.
func (p *Process) Engine() Engine {
	return p.engine
}

// Now returns the current virtual time.
func (p *Process) Now() VTimeInSec {
	return p.engine.CurrentTime()
}

// Done returns the completion event of the process. It succeeds with the exit
// value or fails with the failure of the process.
func (p *Process) Done() *Event {
	return p.done
}

// Value returns the exit value of a finished process.
func (p *Process) Value() any {
	return p.value
}

// Err returns the failure of a failed process.
func (p *Process) Err() error {
	return p.err
}

// CreatedAt returns the time the process was spawned.
func (p *Process) CreatedAt() VTimeInSec {
	return p.createdAt
}

// EndedAt returns the time the process finished or failed.
func (p *Process) EndedAt() VTimeInSec {
	return p.endedAt
}

// IsAlive tells if the process has not finished or failed yet.
func (p *Process) IsAlive() bool {
	return p.state != ProcessFinished && p.state != ProcessFailed
}

// Wait suspends the process until the event is processed, then continues
// with next. A nil next ends the process with the outcome of the event.
func (p *Process) Wait(ev *Event, next Step) Yield {
	if ev == nil {
		panic("process " + p.String() + " waits on a nil event")
	}

	return Yield{kind: yieldWait, event: ev, next: next}
}

// Hold suspends the process for the given duration. A negative duration
// fails the process with a NegativeDurationError.
func (p *Process) Hold(d VTimeInSec, next Step) Yield {
	ev, err := p.engine.Timeout(d)
	if err != nil {
		return p.Fail(err)
	}

	return p.Wait(ev, next)
}

// WaitProcess suspends the process until the other process completes.
func (p *Process) WaitProcess(other *Process, next Step) Yield {
	return p.Wait(other.done, next)
}

// WaitAny suspends the process until the first of the events is processed.
// The outcome value is the event that won.
func (p *Process) WaitAny(next Step, events ...*Event) Yield {
	return p.Wait(p.engine.AnyOf(events...), next)
}

// WaitAll suspends the process until all the events are processed. The
// outcome value is the list of their values.
func (p *Process) WaitAll(next Step, events ...*Event) Yield {
	return p.Wait(p.engine.AllOf(events...), next)
}

// Exit finishes the process with a value.
func (p *Process) Exit(value any) Yield {
	return Yield{kind: yieldExit, value: value}
}

// Fail ends the process with a failure. The failure is delivered to the
// processes waiting on Done and never stops the engine.
func (p *Process) Fail(err error) Yield {
	if err == nil {
		panic("process " + p.String() + " fails with a nil error")
	}

	return Yield{kind: yieldFail, err: err}
}

// OnSuccess wraps a step so that a failed outcome fails the process instead
// of reaching the step.
func OnSuccess(next Step) Step {
	return func(p *Process, o Outcome) Yield {
		if o.Err != nil {
			return p.Fail(o.Err)
		}

		return next(p, o)
	}
}

// Seq chains steps that each end with a wait. Every stage returns the event
// to wait on; the outcome of that wait is handed to the following stage. A
// failed outcome fails the process.
func Seq(stages ...func(p *Process, o Outcome) *Event) Step {
	var at func(i int) Step

	at = func(i int) Step {
		return OnSuccess(func(p *Process, o Outcome) Yield {
			if i == len(stages) {
				return p.Exit(o.Value)
			}

			ev := stages[i](p, o)
			if ev == nil {
				return p.Exit(o.Value)
			}

			return p.Wait(ev, at(i+1))
		})
	}

	return at(0)
}
