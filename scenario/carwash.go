package scenario

import (
	"fmt"

	"github.com/sarchlab/procsim/sim"
	"github.com/sarchlab/procsim/sim/resource"
)

// carwash models cars that take a washing machine, then wait inside it until
// a spot in front of the dryer is free.
type carwash struct{}

func (carwash) Name() string { return "carwash" }

func (carwash) Description() string {
	return "cars share washing machines and a bounded dryer queue"
}

func (carwash) DefaultUntil() float64 { return 60 }

func (w carwash) Setup(env *Env, cfg *Config) error {
	c := cfg.Carwash

	machines, err := env.NewResource("machine", c.Machines)
	if err != nil {
		return err
	}

	dryerQueue, err := env.NewStore("dryer_queue", c.DryBuffer)
	if err != nil {
		return err
	}

	cars := 0
	newCar := func() {
		env.Spawn(fmt.Sprintf("car%02d", cars), w.car(env, c, machines, dryerQueue))
		cars++
	}

	for i := 0; i < c.InitialCars; i++ {
		newCar()
	}

	var source sim.Step
	source = func(p *sim.Process, o sim.Outcome) sim.Yield {
		lo := c.ArrivalInterval - c.ArrivalSpread
		hi := c.ArrivalInterval + c.ArrivalSpread

		return p.Hold(env.Uniform(lo, hi), func(p *sim.Process, o sim.Outcome) sim.Yield {
			newCar()
			return source(p, o)
		})
	}

	env.Spawn("source", source)
	env.Spawn("dryer", w.dryer(env, c, dryerQueue))

	return nil
}

func (carwash) car(
	env *Env,
	c CarwashConfig,
	machines *resource.Resource,
	dryerQueue *resource.Store,
) sim.Step {
	return func(p *sim.Process, o sim.Outcome) sim.Yield {
		arrive := p.Now()
		req := machines.Acquire()

		return p.Wait(req.Granted(), sim.OnSuccess(func(p *sim.Process, o sim.Outcome) sim.Yield {
			env.Observe("wait", float64(p.Now()-arrive))

			return p.Hold(sim.VTimeInSec(c.WashTime), func(p *sim.Process, o sim.Outcome) sim.Yield {
				env.Count("washed", 1)
				put := dryerQueue.Put(p.Name())

				return p.Wait(put.Event(), sim.OnSuccess(func(p *sim.Process, o sim.Outcome) sim.Yield {
					if err := req.Release(); err != nil {
						return p.Fail(err)
					}

					env.Observe("turnaround", float64(p.Now()-arrive))

					return p.Exit(nil)
				}))
			})
		}))
	}
}

func (carwash) dryer(
	env *Env,
	c CarwashConfig,
	dryerQueue *resource.Store,
) sim.Step {
	var next sim.Step
	next = func(p *sim.Process, o sim.Outcome) sim.Yield {
		get := dryerQueue.Get()

		return p.Wait(get.Event(), sim.OnSuccess(func(p *sim.Process, o sim.Outcome) sim.Yield {
			car := o.Value.(string)

			return p.Hold(sim.VTimeInSec(c.DryTime), func(p *sim.Process, o sim.Outcome) sim.Yield {
				env.Count("dried", 1)
				env.Log.WithField("car", car).Debug("car dried")

				return next(p, o)
			})
		}))
	}

	return next
}
