package sim

// A Signal is a re-armable event. Processes passivate on the signal and are
// resumed together when another process activates it. Each activation arms a
// fresh event, so a process that passivates again waits for the next one.
type Signal struct {
	engine  *SerialEngine
	name    string
	current *Event
	count   int
}

// NewSignal creates a signal on the engine.
func NewSignal(engine *SerialEngine, name string) *Signal {
	s := &Signal{
		engine: engine,
		name:   name,
	}
	s.arm()

	return s
}

func (s *Signal) arm() {
	s.current = s.engine.NewEvent("signal:" + s.name)
}

// Event returns the event the next activation triggers.
func (s *Signal) Event() *Event {
	return s.current
}

// Activations returns the number of times the signal was activated.
func (s *Signal) Activations() int {
	return s.count
}

// Passivate suspends the process until the next activation. The outcome value
// is the value given to Activate.
func (s *Signal) Passivate(p *Process, next Step) Yield {
	return p.Wait(s.current, next)
}

// Activate resumes every process passivated on the signal with the value.
func (s *Signal) Activate(value any) {
	ev := s.current
	s.arm()
	s.count++

	if err := ev.Succeed(value); err != nil {
		s.engine.log.Panicf("signal %s: %v", s.name, err)
	}
}
