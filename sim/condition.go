package sim

type conditionKind int

const (
	conditionAny conditionKind = iota
	conditionAll
)

// A condition is the bookkeeping behind a composite event. It is stored in
// the engine's condition table under the id of its composite event.
type condition struct {
	kind      conditionKind
	ev        *Event
	events    []*Event
	remaining int
}

// AnyOf returns an event that fires when the first of the events is
// processed. Its value is the event that won. Events processed later do not
// affect the composite but still notify their own waiters. A failed winner
// fails the composite with the same error.
func (e *SerialEngine) AnyOf(events ...*Event) *Event {
	return e.newCondition(conditionAny, "anyof", events)
}

// AllOf returns an event that fires once every event is processed. Its value
// is the list of values in argument order. The first failure fails the
// composite.
func (e *SerialEngine) AllOf(events ...*Event) *Event {
	return e.newCondition(conditionAll, "allof", events)
}

func (e *SerialEngine) newCondition(
	kind conditionKind,
	name string,
	events []*Event,
) *Event {
	ev := e.NewEvent(name)

	c := &condition{
		kind:      kind,
		ev:        ev,
		events:    append([]*Event(nil), events...),
		remaining: len(events),
	}

	if len(events) == 0 {
		c.succeed()
		return ev
	}

	e.conds[ev.id] = c

	for _, sub := range c.events {
		if ev.state != EventPending {
			break
		}

		if sub.processed {
			e.checkCondition(c, sub)
			continue
		}

		_ = sub.addWaiter(waiter{cond: ev.id})
	}

	return ev
}

func (e *SerialEngine) notifyCondition(id EventID, sub *Event) {
	c, ok := e.conds[id]
	if !ok {
		return
	}

	e.checkCondition(c, sub)
}

func (e *SerialEngine) checkCondition(c *condition, sub *Event) {
	if c.ev.state != EventPending {
		return
	}

	switch {
	case sub.err != nil:
		_ = c.ev.Fail(sub.err)
	case c.kind == conditionAny:
		_ = c.ev.Succeed(sub)
	default:
		c.remaining--
		if c.remaining > 0 {
			return
		}

		c.succeed()
	}

	delete(e.conds, c.ev.id)
}

func (c *condition) succeed() {
	if c.kind == conditionAny {
		_ = c.ev.Succeed(nil)
		return
	}

	values := make([]any, len(c.events))
	for i, sub := range c.events {
		values[i] = sub.value
	}

	_ = c.ev.Succeed(values)
}
