package scenario

import (
	"fmt"

	"github.com/sarchlab/procsim/sim"
	"github.com/sarchlab/procsim/sim/resource"
	"github.com/sirupsen/logrus"
)

// Repair requests rank above the repairman's other jobs, which they preempt.
const (
	repairPriority   = 1
	otherJobPriority = 2
)

// machineShop models machines that make parts and break down at random. A
// single repairman fixes them and fills idle time with less important jobs.
type machineShop struct{}

type machine struct {
	name   string
	proc   *sim.Process
	broken bool
	parts  int
}

func (machineShop) Name() string { return "machineshop" }

func (machineShop) Description() string {
	return "machines break down and preempt a repairman's other jobs"
}

func (machineShop) DefaultUntil() float64 { return 4 * 7 * 24 * 60 }

func (s machineShop) Setup(env *Env, cfg *Config) error {
	c := cfg.MachineShop

	repairman, err := env.NewResource("repairman", 1, resource.WithPreemption())
	if err != nil {
		return err
	}

	machines := make([]*machine, 0, c.Machines)

	for i := 0; i < c.Machines; i++ {
		m := &machine{name: fmt.Sprintf("machine%02d", i)}
		m.proc = env.Spawn(m.name, s.working(env, c, m, repairman))
		env.Spawn(m.name+".breaker", s.breaking(env, c, m))

		machines = append(machines, m)
	}

	env.Spawn("other_jobs", s.otherJobs(env, c, repairman))

	env.AtEnd(func() {
		for _, m := range machines {
			env.Observe("parts_per_machine", float64(m.parts))
		}
	})

	return nil
}

func (machineShop) working(
	env *Env,
	c MachineShopConfig,
	m *machine,
	repairman *resource.Resource,
) sim.Step {
	var makePart func(left sim.VTimeInSec) sim.Step

	start := func(p *sim.Process, o sim.Outcome) sim.Yield {
		return makePart(env.Normal(c.PartTimeMean, c.PartTimeSigma))(p, o)
	}

	makePart = func(left sim.VTimeInSec) sim.Step {
		return func(p *sim.Process, o sim.Outcome) sim.Yield {
			doneAt := p.Now() + left

			return p.Hold(left, func(p *sim.Process, o sim.Outcome) sim.Yield {
				if o.Err == nil {
					m.parts++
					env.Count("parts", 1)

					return start(p, o)
				}

				if !sim.IsInterrupt(o.Err) {
					return p.Fail(o.Err)
				}

				m.broken = true
				env.Count("breakdowns", 1)
				remaining := doneAt - p.Now()
				brokenAt := p.Now()

				req := repairman.Acquire(resource.Priority(repairPriority))

				return p.Wait(req.Granted(), sim.OnSuccess(func(p *sim.Process, o sim.Outcome) sim.Yield {
					return p.Hold(sim.VTimeInSec(c.RepairTime), sim.OnSuccess(func(p *sim.Process, o sim.Outcome) sim.Yield {
						if err := req.Release(); err != nil {
							return p.Fail(err)
						}

						m.broken = false
						env.Observe("downtime", float64(p.Now()-brokenAt))

						return makePart(remaining)(p, o)
					}))
				}))
			})
		}
	}

	return start
}

func (machineShop) breaking(env *Env, c MachineShopConfig, m *machine) sim.Step {
	var next sim.Step
	next = func(p *sim.Process, o sim.Outcome) sim.Yield {
		return p.Hold(env.Exp(c.MTTF), func(p *sim.Process, o sim.Outcome) sim.Yield {
			if !m.broken && m.proc.IsAlive() {
				err := env.Engine.Interrupt(m.proc, "breakdown")
				if err != nil {
					env.Log.WithError(err).
						WithField("machine", m.name).
						Debug("breakdown skipped")
				}
			}

			return next(p, o)
		})
	}

	return next
}

func (machineShop) otherJobs(
	env *Env,
	c MachineShopConfig,
	repairman *resource.Resource,
) sim.Step {
	var work func(req *resource.Request, left sim.VTimeInSec) sim.Step

	var next sim.Step
	next = func(p *sim.Process, o sim.Outcome) sim.Yield {
		req := repairman.Acquire(resource.Priority(otherJobPriority))
		left := sim.VTimeInSec(c.JobDuration)

		return p.Wait(req.Granted(), sim.OnSuccess(work(req, left)))
	}

	work = func(req *resource.Request, left sim.VTimeInSec) sim.Step {
		return func(p *sim.Process, o sim.Outcome) sim.Yield {
			startAt := p.Now()

			return p.Hold(left, func(p *sim.Process, o sim.Outcome) sim.Yield {
				if o.Err == nil {
					if err := req.Release(); err != nil {
						return p.Fail(err)
					}

					env.Count("other_jobs", 1)

					return next(p, o)
				}

				preempted, ok := resource.IsPreempted(o.Err)
				if !ok {
					return p.Fail(o.Err)
				}

				env.Count("other_job_preemptions", 1)
				env.Log.WithFields(logrus.Fields{
					"by":   preempted.By.String(),
					"left": float64(left - (p.Now() - startAt)),
				}).Debug("other job preempted")

				left -= p.Now() - startAt

				return p.Wait(req.Granted(), sim.OnSuccess(work(req, left)))
			})
		}
	}

	return next
}
