package sim

import "fmt"

// VTimeInSec defines the time in the simulated space in the unit of second
type VTimeInSec float64

// EventID is the creation sequence number of an event. It is unique within
// one engine and breaks ties between events that fire at the same time.
type EventID uint64

// EventState is the lifecycle state of an event.
type EventState int

// The states of an event. An event is terminal once it leaves EventPending.
const (
	EventPending EventState = iota
	EventTriggered
	EventCancelled
)

func (s EventState) String() string {
	switch s {
	case EventPending:
		return "pending"
	case EventTriggered:
		return "triggered"
	case EventCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("EventState(%d)", int(s))
	}
}

// waiter refers to whoever is notified when an event is processed. Processes
// and conditions are referred to by id and looked up in the engine tables.
type waiter struct {
	proc ProcessID
	cond EventID
	fn   func(*Event)
}

// An Event is something going to happen in the future.
type Event struct {
	id     EventID
	name   string
	engine *SerialEngine

	state     EventState
	processed bool
	fireTime  VTimeInSec
	scheduled bool

	value  any
	err    error
	origin *Event

	waiters   []waiter
	onAbandon func(*Event)
}

// ID returns the creation sequence number of the event.
func (e *Event) ID() EventID {
	return e.id
}

// Name returns the name given when the event was created.
func (e *Event) Name() string {
	return e.name
}

// State returns the lifecycle state of the event.
func (e *Event) State() EventState {
	return e.state
}

// Processed tells if the engine has delivered the event to its waiters.
func (e *Event) Processed() bool {
	return e.processed
}

// Time returns the time at which the event fires. It is only meaningful once
// the event is scheduled.
func (e *Event) Time() VTimeInSec {
	return e.fireTime
}

// Value returns the outcome value of a succeeded event.
func (e *Event) Value() any {
	return e.value
}

// Err returns the failure of a failed event.
func (e *Event) Err() error {
	return e.err
}

// Outcome returns the value and the failure carried by the event.
func (e *Event) Outcome() Outcome {
	if e.origin != nil {
		return Outcome{Value: e.value, Err: e.err, Event: e.origin}
	}

	return Outcome{Value: e.value, Err: e.err, Event: e}
}

func (e *Event) String() string {
	return fmt.Sprintf("%s#%d", e.name, e.id)
}

// Succeed triggers the event with a value. Waiters observe it only after the
// engine pops the event from the queue.
func (e *Event) Succeed(value any) error {
	if err := e.mustBeUnscheduled("succeed"); err != nil {
		return err
	}

	e.state = EventTriggered
	e.value = value
	e.engine.schedule(e, e.engine.CurrentTime())

	return nil
}

// Fail triggers the event with a failure.
func (e *Event) Fail(err error) error {
	if err == nil {
		panic("failing an event requires a non-nil error")
	}

	if stateErr := e.mustBeUnscheduled("fail"); stateErr != nil {
		return stateErr
	}

	e.state = EventTriggered
	e.err = err
	e.engine.schedule(e, e.engine.CurrentTime())

	return nil
}

// Cancel withdraws a pending event. The engine skips cancelled events and
// never notifies their waiters.
func (e *Event) Cancel() error {
	if err := e.mustBePending("cancel"); err != nil {
		return err
	}

	e.state = EventCancelled
	e.engine.forget(e)
	e.engine.log.WithField("event", e.String()).Debug("event cancelled")

	return nil
}

// OnFire registers a callback that runs when the engine processes the event.
// It returns an AlreadyTriggeredError if the event has already been
// processed, in which case the caller should treat it as ready.
func (e *Event) OnFire(fn func(*Event)) error {
	return e.addWaiter(waiter{fn: fn})
}

// OnAbandon registers a function that runs when the last process waiting on
// the event is interrupted away from it before the event is processed.
func (e *Event) OnAbandon(fn func(*Event)) {
	e.onAbandon = fn
}

func (e *Event) mustBePending(op string) error {
	if e.processed || e.state != EventPending {
		return &AlreadyTriggeredError{Event: e, Op: op}
	}

	return nil
}

// mustBeUnscheduled rejects triggering an event that is already on its way
// to the queue, such as a timeout.
func (e *Event) mustBeUnscheduled(op string) error {
	if err := e.mustBePending(op); err != nil {
		return err
	}

	if e.scheduled {
		return &AlreadyTriggeredError{Event: e, Op: op}
	}

	return nil
}

func (e *Event) addWaiter(w waiter) error {
	if e.processed {
		return &AlreadyTriggeredError{Event: e, Op: "register waiter"}
	}

	e.waiters = append(e.waiters, w)

	return nil
}

func (e *Event) removeProcessWaiter(id ProcessID) {
	for i, w := range e.waiters {
		if w.proc == id {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

func (e *Event) hasWaiters() bool {
	return len(e.waiters) > 0
}
