package scenario

import (
	"fmt"

	"github.com/sarchlab/procsim/sim"
	"github.com/sarchlab/procsim/sim/resource"
	"github.com/sirupsen/logrus"
)

// bank models customers that queue for counters and leave when their
// patience runs out before a counter is free.
type bank struct{}

func (bank) Name() string { return "bank" }

func (bank) Description() string {
	return "customers queue for counters and renege when impatient"
}

func (bank) DefaultUntil() float64 { return 0 }

func (b bank) Setup(env *Env, cfg *Config) error {
	c := cfg.Bank

	counter, err := env.NewResource("counter", c.Counters)
	if err != nil {
		return err
	}

	i := 0

	var source sim.Step
	source = func(p *sim.Process, o sim.Outcome) sim.Yield {
		if i == c.Customers {
			return p.Exit(i)
		}

		env.Spawn(fmt.Sprintf("customer%02d", i), b.customer(env, c, counter))
		i++

		return p.Hold(env.Exp(c.ArrivalInterval), source)
	}

	env.Spawn("source", source)

	return nil
}

func (bank) customer(
	env *Env,
	c BankConfig,
	counter *resource.Resource,
) sim.Step {
	return func(p *sim.Process, o sim.Outcome) sim.Yield {
		arrive := p.Now()
		req := counter.Acquire()

		patience, err := env.Engine.Timeout(env.Uniform(c.MinPatience, c.MaxPatience))
		if err != nil {
			return p.Fail(err)
		}

		return p.WaitAny(sim.OnSuccess(func(p *sim.Process, o sim.Outcome) sim.Yield {
			waited := float64(p.Now() - arrive)
			log := env.Log.WithFields(logrus.Fields{
				"customer": p.Name(),
				"waited":   waited,
			})

			if o.Value != req.Granted() {
				if err := req.Release(); err != nil {
					return p.Fail(err)
				}

				env.Count("reneged", 1)
				log.Debug("customer reneged")

				return p.Exit("reneged")
			}

			_ = patience.Cancel()

			env.Count("served", 1)
			env.Observe("wait", waited)
			log.Debug("customer served")

			return p.Hold(env.Exp(c.ServiceTime), func(p *sim.Process, o sim.Outcome) sim.Yield {
				if err := req.Release(); err != nil {
					return p.Fail(err)
				}

				return p.Exit("served")
			})
		}), req.Granted(), patience)
	}
}
