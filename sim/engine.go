package sim

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// A SimulationEndHandler is a handler that is called after the simulation
// ends. Handlers report unclean state through the Diagnoser they receive.
type SimulationEndHandler interface {
	Handle(now VTimeInSec, d Diagnoser)
}

// A Diagnoser collects diagnostics found while tearing a simulation down.
type Diagnoser interface {
	Report(d Diagnostic)
}

// An Engine is a unit that keeps the discrete event simulation run.
type Engine interface {
	Hookable
	TimeTeller

	// NewEvent creates a pending event owned by the caller.
	NewEvent(name string) *Event

	// Timeout creates an event that fires after the given duration.
	Timeout(d VTimeInSec) (*Event, error)

	// Spawn registers a process that starts on a later scheduler step.
	Spawn(name string, step Step) *Process

	// Interrupt resumes a waiting process early with a failure.
	Interrupt(p *Process, cause any) error

	// ActiveProcess returns the process whose step is executing, if any.
	ActiveProcess() *Process

	// AnyOf returns an event that fires with the first of the events.
	AnyOf(events ...*Event) *Event

	// AllOf returns an event that fires once all the events fired.
	AllOf(events ...*Event) *Event

	// Run will process all the events until the simulation finishes
	Run() error

	// RunUntil processes events up to and including the horizon.
	RunUntil(horizon VTimeInSec) error

	// Stop ends the current run after the in-flight event is delivered.
	Stop()

	// Pause will pause the simulation until continue is called.
	Pause()

	// Continue will continue the paused simulation
	Continue()

	// Inspect runs fn while no event is being delivered.
	Inspect(fn func())

	// RegisterSimulationEndHandler registers a handler that perform some
	// actions after the simulation is finished.
	RegisterSimulationEndHandler(handler SimulationEndHandler)

	// Finished invokes all the registered SimulationEndHandler and returns
	// the diagnostics they reported.
	Finished() []Diagnostic
}
