package scenario

import (
	"fmt"

	"github.com/sarchlab/procsim/datarecording"
	"github.com/sarchlab/procsim/sim"
	"github.com/sarchlab/procsim/tracing"
	"github.com/sirupsen/logrus"
)

// Options controls a run beyond what the configuration sets.
type Options struct {
	// Log is the logger of the run. The standard logger is used when nil.
	Log *logrus.Entry

	// Recorder receives the trace of the run when set.
	Recorder datarecording.DataRecorder

	// BeforeRun is called after the model is set up and before the engine
	// starts, for example to attach a monitor.
	BeforeRun func(env *Env)
}

// Run builds the configured model, runs it and reports the result.
func Run(cfg *Config, opts Options) (*Report, error) {
	model, err := Lookup(cfg.Scenario)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	env := NewEnv(model.Name(), cfg.Seed, log)
	if err := model.Setup(env, cfg); err != nil {
		return nil, fmt.Errorf("setting up %s: %w", model.Name(), err)
	}

	probes := attachTracers(env, opts.Recorder)

	if opts.BeforeRun != nil {
		opts.BeforeRun(env)
	}

	until := cfg.Until
	if until == 0 {
		until = model.DefaultUntil()
	}

	log.WithFields(logrus.Fields{
		"seed":  cfg.Seed,
		"until": until,
	}).Info("simulation started")

	if until > 0 {
		err = env.Engine.RunUntil(sim.VTimeInSec(until))
	} else {
		err = env.Engine.Run()
	}

	if err != nil {
		return nil, fmt.Errorf("running %s: %w", model.Name(), err)
	}

	for _, fn := range env.atEnd {
		fn()
	}

	report := newReport(model.Name(), cfg, until, env, probes)

	log.WithFields(logrus.Fields{
		"now":         report.Run.EndTime,
		"events":      report.Run.Events,
		"diagnostics": len(report.Diagnostics),
	}).Info("simulation finished")

	return report, nil
}

// probes are the tracers attached to a run.
type probes struct {
	processTime *tracing.AverageTimeTracer
	occupied    map[string]*tracing.BusyTimeTracer
	db          *tracing.DBTracer
}

func attachTracers(env *Env, recorder datarecording.DataRecorder) *probes {
	pr := &probes{
		processTime: tracing.NewAverageTimeTracer(env.Engine,
			tracing.KindFilter("process")),
		occupied: make(map[string]*tracing.BusyTimeTracer),
	}

	tracing.CollectProcessTrace(env.Engine, pr.processTime)

	for _, r := range env.resources {
		busy := tracing.NewBusyTimeTracer(env.Engine, tracing.KindFilter("hold"))
		tracing.CollectTrace(r, busy)
		pr.occupied[r.Name()] = busy
	}

	if recorder != nil {
		pr.db = tracing.NewDBTracer(env.Engine, recorder)
		tracing.CollectProcessTrace(env.Engine, pr.db)

		for _, r := range env.resources {
			tracing.CollectTrace(r, pr.db)
		}
	}

	return pr
}
