package tracing

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/procsim/sim"
)

// CollectTrace let the tracer to collect trace from a domain
func CollectTrace(domain NamedHookable, tracer Tracer) {
	for _, hook := range domain.Hooks() {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf(
				"domain %s already has tracer %s",
				domain.Name(), reflect.TypeOf(tracer)))
		}
	}

	domain.AcceptHook(&traceHook{t: tracer})
}

// A traceHook is a hook that traces tasks
type traceHook struct {
	t Tracer
}

// Func calls the tracer interfaces when the hook is triggered
func (h *traceHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case HookPosTaskStart:
		h.t.StartTask(ctx.Item.(Task))
	case HookPosTaskStep:
		h.t.StepTask(ctx.Item.(Task))
	case HookPosTaskEnd:
		h.t.EndTask(ctx.Item.(Task))
	}
}

// CollectProcessTrace lets the tracer see every process of the engine as a
// task of kind "process", from its first step until it finishes or fails.
// Interruptions are reported as steps.
func CollectProcessTrace(engine NamedHookable, tracer Tracer) {
	engine.AcceptHook(&processTraceHook{t: tracer, location: engine.Name()})
}

type processTraceHook struct {
	t        Tracer
	location string
}

func (h *processTraceHook) Func(ctx sim.HookCtx) {
	p, ok := ctx.Item.(*sim.Process)
	if !ok {
		return
	}

	switch ctx.Pos {
	case sim.HookPosProcessStart:
		h.t.StartTask(Task{
			ID:       p.String(),
			Kind:     "process",
			What:     p.Name(),
			Location: h.location,
			Detail:   p,
		})
	case sim.HookPosProcessInterrupted:
		h.t.StepTask(Task{
			ID:    p.String(),
			Steps: []TaskStep{{Time: ctx.Now, What: "interrupted"}},
		})
	case sim.HookPosProcessEnd:
		h.t.EndTask(Task{ID: p.String(), Detail: p})
	}
}
