package sim

import "github.com/sirupsen/logrus"

// EventLogger is an hook that prints the event and process activity of an
// engine.
type EventLogger struct {
	LogHookBase
}

// NewEventLogger returns a new EventLogger which will write in to the logger
func NewEventLogger(logger *logrus.Entry) *EventLogger {
	h := new(EventLogger)
	h.Logger = logger

	return h
}

// Func writes the event information into the logger
func (h *EventLogger) Func(ctx HookCtx) {
	switch ctx.Pos {
	case HookPosBeforeEvent:
		evt, ok := ctx.Item.(*Event)
		if !ok {
			return
		}

		entry := h.Logger.WithFields(logrus.Fields{
			"now":   float64(ctx.Now),
			"event": evt.String(),
		})
		if evt.Err() != nil {
			entry = entry.WithError(evt.Err())
		}

		entry.Trace("event fired")
	case HookPosProcessStart, HookPosProcessEnd, HookPosProcessInterrupted:
		p, ok := ctx.Item.(*Process)
		if !ok {
			return
		}

		h.Logger.WithFields(logrus.Fields{
			"now":     float64(ctx.Now),
			"process": p.String(),
			"state":   p.State().String(),
		}).Debug(ctx.Pos.Name)
	}
}
