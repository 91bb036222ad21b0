package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrHorizonInPast is returned by RunUntil when the horizon is earlier than
// the current time.
var ErrHorizonInPast = errors.New("horizon is earlier than the current time")

// RunState is the state of the engine over a run.
type RunState int32

// The states of a run.
const (
	RunIdle RunState = iota
	RunRunning
	RunCompleted
	RunHorizonReached
	RunStoppedEarly
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunHorizonReached:
		return "horizon_reached"
	case RunStoppedEarly:
		return "stopped_early"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

// A SerialEngine is an Engine that always run events one after another. It
// owns the virtual clock, the event queue and the tables of live events,
// processes and conditions of one simulation.
type SerialEngine struct {
	*HookableBase

	name string
	log  *logrus.Entry
	ids  IDGenerator

	timeLock sync.RWMutex
	time     VTimeInSec
	queue    *EventQueue

	nextEventID   EventID
	nextProcessID ProcessID
	events        map[EventID]*Event
	procs         map[ProcessID]*Process
	conds         map[EventID]*condition
	active        *Process

	state         atomic.Int32
	running       atomic.Bool
	stopRequested atomic.Bool
	numProcessed  atomic.Uint64

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex
	stepLock     sync.Mutex

	simulationEndHandlers []SimulationEndHandler
}

// NewSerialEngine creates a SerialEngine
func NewSerialEngine() *SerialEngine {
	e := new(SerialEngine)

	e.HookableBase = NewHookableBase()
	e.name = "engine"
	e.log = logrus.WithField("engine", e.name)
	e.ids = NewSequentialIDGenerator()
	e.queue = NewEventQueue()
	e.events = make(map[EventID]*Event)
	e.procs = make(map[ProcessID]*Process)
	e.conds = make(map[EventID]*condition)

	return e
}

// WithName sets the name that appears in the logs of the engine.
func (e *SerialEngine) WithName(name string) *SerialEngine {
	e.name = name
	e.log = e.log.WithField("engine", name)

	return e
}

// WithLogger sets the logger the engine writes to.
func (e *SerialEngine) WithLogger(entry *logrus.Entry) *SerialEngine {
	e.log = entry.WithField("engine", e.name)
	return e
}

// Name returns the name of the engine.
func (e *SerialEngine) Name() string {
	return e.name
}

// Logger returns the logger of the engine, for components built on it.
func (e *SerialEngine) Logger() *logrus.Entry {
	return e.log
}

// IDGenerator returns the generator of string IDs owned by the engine.
func (e *SerialEngine) IDGenerator() IDGenerator {
	return e.ids
}

// NewEvent creates a pending event with a fresh sequence number.
func (e *SerialEngine) NewEvent(name string) *Event {
	e.nextEventID++

	ev := &Event{
		id:     e.nextEventID,
		name:   name,
		engine: e,
	}
	e.events[ev.id] = ev

	return ev
}

// Timeout creates an event that fires at now + d.
func (e *SerialEngine) Timeout(d VTimeInSec) (*Event, error) {
	if d < 0 {
		return nil, &NegativeDurationError{Duration: d}
	}

	ev := e.NewEvent("timeout")
	e.schedule(ev, e.readNow()+d)

	return ev, nil
}

// Spawn registers a process. The process runs its first step on a later
// scheduler step at the current time, never inside the caller.
func (e *SerialEngine) Spawn(name string, step Step) *Process {
	if step == nil {
		panic("spawning process " + name + " without a step")
	}

	e.nextProcessID++

	p := &Process{
		id:        e.nextProcessID,
		name:      name,
		engine:    e,
		state:     ProcessCreated,
		next:      step,
		createdAt: e.readNow(),
	}
	p.done = e.NewEvent("done:" + name)
	e.procs[p.id] = p

	start := e.NewEvent("start:" + name)
	_ = start.addWaiter(waiter{proc: p.id})
	p.waitingOn = start.id
	_ = start.Succeed(nil)

	e.log.WithField("process", p.String()).Debug("process spawned")

	return p
}

// Interrupt resumes a waiting process at the current time with an
// InterruptError carrying the cause. The process is detached from the event
// it waited on, so that event can no longer resume it.
func (e *SerialEngine) Interrupt(p *Process, cause any) error {
	if p.engine != e {
		panic("interrupting a process of another engine")
	}

	if p.state != ProcessWaiting || p.interruptPending {
		return &NotWaitingError{Process: p}
	}

	e.detach(p)

	ev := e.NewEvent("interrupt:" + p.name)
	_ = ev.addWaiter(waiter{proc: p.id})
	p.waitingOn = ev.id
	p.interruptPending = true
	_ = ev.Fail(&InterruptError{Cause: cause})

	e.log.WithFields(logrus.Fields{
		"process": p.String(),
		"cause":   cause,
	}).Debug("process interrupted")

	e.InvokeHook(HookCtx{
		Domain: e,
		Now:    e.readNow(),
		Pos:    HookPosProcessInterrupted,
		Item:   p,
		Detail: cause,
	})

	return nil
}

// ActiveProcess returns the process whose step is executing. It returns nil
// between steps.
func (e *SerialEngine) ActiveProcess() *Process {
	return e.active
}

// Processes returns the live processes ordered by id.
func (e *SerialEngine) Processes() []*Process {
	list := make([]*Process, 0, len(e.procs))
	for _, p := range e.procs {
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })

	return list
}

func (e *SerialEngine) schedule(ev *Event, t VTimeInSec) {
	now := e.readNow()
	if t < now {
		e.log.Panicf("scheduling event %s at %.10f, earlier than now %.10f",
			ev, float64(t), float64(now))
	}

	ev.fireTime = t
	ev.scheduled = true
	e.queue.Push(ev, t)
}

func (e *SerialEngine) forget(ev *Event) {
	delete(e.events, ev.id)
	delete(e.conds, ev.id)
}

func (e *SerialEngine) readNow() VTimeInSec {
	e.timeLock.RLock()
	t := e.time
	e.timeLock.RUnlock()

	return t
}

func (e *SerialEngine) writeNow(t VTimeInSec) {
	e.timeLock.Lock()
	e.time = t
	e.timeLock.Unlock()
}

// Run processes all the events scheduled in the SerialEngine
func (e *SerialEngine) Run() error {
	return e.run(false, 0)
}

// RunUntil processes the events that fire no later than the horizon, then
// moves the clock to the horizon.
func (e *SerialEngine) RunUntil(horizon VTimeInSec) error {
	if horizon < e.readNow() {
		return fmt.Errorf("%w: horizon %v, now %v",
			ErrHorizonInPast, float64(horizon), float64(e.readNow()))
	}

	return e.run(true, horizon)
}

func (e *SerialEngine) run(hasHorizon bool, horizon VTimeInSec) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}
	defer e.running.Store(false)

	e.state.Store(int32(RunRunning))

	for {
		if e.stopRequested.Load() {
			e.finishRun(RunStoppedEarly)
			return nil
		}

		if !e.dropDeadEntries() {
			if hasHorizon {
				e.writeNow(horizon)
				e.finishRun(RunHorizonReached)
			} else {
				e.finishRun(RunCompleted)
			}

			return nil
		}

		if hasHorizon && e.queue.PeekTime() > horizon {
			e.writeNow(horizon)
			e.finishRun(RunHorizonReached)

			return nil
		}

		e.pauseLock.Lock()

		if e.stopRequested.Load() {
			e.pauseLock.Unlock()
			e.finishRun(RunStoppedEarly)

			return nil
		}

		e.stepLock.Lock()
		e.processNext()
		e.stepLock.Unlock()

		e.pauseLock.Unlock()
	}
}

func (e *SerialEngine) finishRun(s RunState) {
	e.stopRequested.Store(false)
	e.state.Store(int32(s))
	e.log.WithFields(logrus.Fields{
		"state":     s.String(),
		"now":       float64(e.readNow()),
		"processed": e.numProcessed.Load(),
	}).Debug("run ended")
}

// Step processes one event. It returns false if there is no event left or if
// the engine is running.
func (e *SerialEngine) Step() bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}
	defer e.running.Store(false)

	if !e.dropDeadEntries() {
		return false
	}

	e.stepLock.Lock()
	e.processNext()
	e.stepLock.Unlock()

	return true
}

// dropDeadEntries pops cancelled and already-processed entries from the front
// of the queue. It returns false if the queue becomes empty.
func (e *SerialEngine) dropDeadEntries() bool {
	for e.queue.Len() > 0 {
		_, evt := e.queue.Peek()
		if evt != nil && evt.state != EventCancelled && !evt.processed {
			return true
		}

		e.queue.Pop()
	}

	return false
}

func (e *SerialEngine) processNext() {
	t, evt := e.queue.Pop()
	if evt == nil {
		e.log.Panicf("event queue entry at %.10f has no event", float64(t))
	}

	now := e.readNow()
	if t < now {
		e.log.Panicf(
			"cannot run event in the past, evt %s @ %.10f, now %.10f",
			evt, float64(t), float64(now),
		)
	}

	e.writeNow(t)

	if evt.state == EventPending {
		evt.state = EventTriggered
	}

	evt.processed = true
	e.forgetEvent(evt)

	hookCtx := HookCtx{
		Domain: e,
		Now:    t,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	e.InvokeHook(hookCtx)

	waiters := evt.waiters
	evt.waiters = nil

	for _, w := range waiters {
		e.notify(w, evt)
	}

	hookCtx.Pos = HookPosAfterEvent
	e.InvokeHook(hookCtx)

	e.numProcessed.Add(1)
}

func (e *SerialEngine) forgetEvent(evt *Event) {
	delete(e.events, evt.id)
}

func (e *SerialEngine) notify(w waiter, evt *Event) {
	switch {
	case w.proc != 0:
		e.notifyProcess(w.proc, evt)
	case w.cond != 0:
		e.notifyCondition(w.cond, evt)
	case w.fn != nil:
		w.fn(evt)
	}
}

func (e *SerialEngine) notifyProcess(id ProcessID, evt *Event) {
	p, ok := e.procs[id]
	if !ok {
		return
	}

	if p.state != ProcessWaiting && p.state != ProcessCreated {
		return
	}

	if p.waitingOn != evt.id {
		return
	}

	p.interruptPending = false
	e.resume(p, evt.Outcome())
}

func (e *SerialEngine) resume(p *Process, o Outcome) {
	if p.state == ProcessCreated {
		e.InvokeHook(HookCtx{
			Domain: e,
			Now:    e.readNow(),
			Pos:    HookPosProcessStart,
			Item:   p,
		})
	}

	p.state = ProcessRunning
	p.waitingOn = 0

	step := p.next
	p.next = nil

	prev := e.active
	e.active = p
	y := e.runStep(p, step, o)
	e.active = prev

	e.apply(p, y)
}

func (e *SerialEngine) runStep(p *Process, step Step, o Outcome) (y Yield) {
	if step == nil {
		if o.Err != nil {
			return p.Fail(o.Err)
		}

		return p.Exit(o.Value)
	}

	defer func() {
		if r := recover(); r != nil {
			y = Yield{kind: yieldFail, err: &PanicError{
				Process: p.String(),
				Value:   r,
			}}
		}
	}()

	return step(p, o)
}

func (e *SerialEngine) apply(p *Process, y Yield) {
	switch y.kind {
	case yieldWait:
		e.wait(p, y.event, y.next)
	case yieldFail:
		e.end(p, ProcessFailed, nil, y.err)
	default:
		e.end(p, ProcessFinished, y.value, nil)
	}
}

func (e *SerialEngine) wait(p *Process, ev *Event, next Step) {
	if ev.engine != e {
		panic("process " + p.String() + " waits on an event of another engine")
	}

	switch {
	case ev.processed:
		ev = e.relay(ev, ev.value, ev.err)
	case ev.state == EventCancelled:
		ev = e.relay(ev, nil, ErrEventCancelled)
	}

	_ = ev.addWaiter(waiter{proc: p.id})
	p.waitingOn = ev.id
	p.next = next
	p.state = ProcessWaiting
}

// relay creates an event that repeats the outcome of an event that can no
// longer be waited on, so the waiter resumes on a later step.
func (e *SerialEngine) relay(origin *Event, value any, err error) *Event {
	ev := e.NewEvent("relay:" + origin.name)
	ev.origin = origin
	if err != nil {
		_ = ev.Fail(err)
	} else {
		_ = ev.Succeed(value)
	}

	return ev
}

func (e *SerialEngine) detach(p *Process) {
	ev, ok := e.events[p.waitingOn]
	p.waitingOn = 0

	if !ok {
		return
	}

	ev.removeProcessWaiter(p.id)

	if !ev.hasWaiters() && ev.onAbandon != nil && !ev.processed {
		ev.onAbandon(ev)
	}
}

func (e *SerialEngine) end(
	p *Process,
	state ProcessState,
	value any,
	err error,
) {
	p.state = state
	p.value = value
	p.err = err
	p.endedAt = e.readNow()
	delete(e.procs, p.id)

	entry := e.log.WithFields(logrus.Fields{
		"process": p.String(),
		"now":     float64(p.endedAt),
	})

	if err != nil {
		_ = p.done.Fail(err)
		entry.WithError(err).Info("process failed")
	} else {
		_ = p.done.Succeed(value)
		entry.Debug("process finished")
	}

	e.InvokeHook(HookCtx{
		Domain: e,
		Now:    p.endedAt,
		Pos:    HookPosProcessEnd,
		Item:   p,
	})
}

// Stop ends the current run once the event being delivered is done. It can
// be called from a process step or from another goroutine. A stop requested
// while no run is in progress ends the next run before its first event.
func (e *SerialEngine) Stop() {
	e.stopRequested.Store(true)
}

// State returns the state of the current or last run.
func (e *SerialEngine) State() RunState {
	return RunState(e.state.Load())
}

// NumProcessed returns the number of events delivered so far.
func (e *SerialEngine) NumProcessed() uint64 {
	return e.numProcessed.Load()
}

// Pause prevents the SerialEngine to trigger more events. It must be called
// from a goroutine other than the one running the engine.
func (e *SerialEngine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()
	e.isPaused = true
}

// Continue allows the SerialEngine to trigger more events.
func (e *SerialEngine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.pauseLock.Unlock()
	e.isPaused = false
}

// IsPaused tells if the engine is paused.
func (e *SerialEngine) IsPaused() bool {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	return e.isPaused
}

// Inspect runs fn while no event is being delivered. It is meant for other
// goroutines that read simulation state, and must not be called from a
// process step.
func (e *SerialEngine) Inspect(fn func()) {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()

	fn()
}

// CurrentTime returns the current time at which the engine is at.
// Specifically, the run time of the current event.
func (e *SerialEngine) CurrentTime() VTimeInSec {
	return e.readNow()
}

// RegisterSimulationEndHandler registers a handler that is called by
// Finished.
func (e *SerialEngine) RegisterSimulationEndHandler(
	handler SimulationEndHandler,
) {
	e.simulationEndHandlers = append(e.simulationEndHandlers, handler)
}

// Finished should be called after the simulation ends. This function
// calls all the registered SimulationEndHandler and reports processes that
// are still suspended. Diagnostics are logged as warnings and returned.
func (e *SerialEngine) Finished() []Diagnostic {
	now := e.readNow()
	collector := &diagnosticCollector{}

	for _, h := range e.simulationEndHandlers {
		h.Handle(now, collector)
	}

	for _, p := range e.Processes() {
		what := "not started"
		if p.state == ProcessWaiting {
			what = fmt.Sprintf("waiting on cancelled event #%d", p.waitingOn)
			if ev, ok := e.events[p.waitingOn]; ok {
				what = "waiting on " + ev.String()
			}
		}

		collector.Report(Diagnostic{
			Kind:    DiagnosticProcessPending,
			Subject: p.String(),
			Message: what,
			Time:    now,
		})
	}

	for _, d := range collector.diagnostics {
		e.log.WithFields(logrus.Fields{
			"kind":    string(d.Kind),
			"subject": d.Subject,
		}).Warn(d.Message)
	}

	return collector.diagnostics
}
