package scenario

import (
	"math/rand/v2"
	"sort"

	"github.com/sarchlab/procsim/sim"
	"github.com/sarchlab/procsim/sim/resource"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Env is what a model builds on: the engine, a seeded random source, and the
// processes, resources and metrics that end up in the report.
type Env struct {
	Engine *sim.SerialEngine
	Log    *logrus.Entry

	src       rand.Source
	processes []*sim.Process
	resources []*resource.Resource
	stores    []*resource.Store
	metrics   map[string]float64
	samples   map[string][]float64
	atEnd     []func()
}

// NewEnv creates an environment with its own engine.
func NewEnv(name string, seed uint64, log *logrus.Entry) *Env {
	log = log.WithField("scenario", name)

	return &Env{
		Engine: sim.NewSerialEngine().
			WithName(name).
			WithLogger(log),
		Log:     log,
		src:     rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		metrics: make(map[string]float64),
		samples: make(map[string][]float64),
	}
}

// Spawn starts a process that is listed in the report.
func (env *Env) Spawn(name string, step sim.Step) *sim.Process {
	p := env.Engine.Spawn(name, step)
	env.processes = append(env.processes, p)

	return p
}

// NewResource creates a resource that is listed in the report.
func (env *Env) NewResource(
	name string,
	capacity int,
	opts ...resource.Option,
) (*resource.Resource, error) {
	opts = append([]resource.Option{resource.WithLogger(env.Log)}, opts...)

	r, err := resource.New(env.Engine, name, capacity, opts...)
	if err != nil {
		return nil, err
	}

	env.resources = append(env.resources, r)

	return r, nil
}

// NewStore creates a store whose final content is reported as a metric.
func (env *Env) NewStore(name string, capacity int) (*resource.Store, error) {
	s, err := resource.NewStore(env.Engine, name, capacity)
	if err != nil {
		return nil, err
	}

	env.stores = append(env.stores, s)

	return s, nil
}

// Resources returns the resources created through the environment.
func (env *Env) Resources() []*resource.Resource {
	return env.resources
}

// Processes returns the processes spawned through the environment.
func (env *Env) Processes() []*sim.Process {
	return env.processes
}

// Count adds delta to a metric.
func (env *Env) Count(name string, delta float64) {
	env.metrics[name] += delta
}

// Observe records a sample. The report shows the count, the mean, the
// standard deviation and the maximum of each sampled quantity.
func (env *Env) Observe(name string, v float64) {
	env.samples[name] = append(env.samples[name], v)
}

// AtEnd registers a function that runs after the simulation stops, before
// the report is made.
func (env *Env) AtEnd(fn func()) {
	env.atEnd = append(env.atEnd, fn)
}

// Exp draws from an exponential distribution with the given mean.
func (env *Env) Exp(mean float64) sim.VTimeInSec {
	d := distuv.Exponential{Rate: 1 / mean, Src: env.src}
	return sim.VTimeInSec(d.Rand())
}

// Uniform draws uniformly from [lo, hi).
func (env *Env) Uniform(lo, hi float64) sim.VTimeInSec {
	if hi <= lo {
		return sim.VTimeInSec(lo)
	}

	d := distuv.Uniform{Min: lo, Max: hi, Src: env.src}

	return sim.VTimeInSec(d.Rand())
}

// Normal draws from a normal distribution, truncated at zero.
func (env *Env) Normal(mean, sigma float64) sim.VTimeInSec {
	if sigma == 0 {
		return sim.VTimeInSec(mean)
	}

	d := distuv.Normal{Mu: mean, Sigma: sigma, Src: env.src}

	v := d.Rand()
	if v < 0 {
		v = 0
	}

	return sim.VTimeInSec(v)
}

// A Metric is a named number summarizing a run.
type Metric struct {
	Name  string
	Value float64
}

// Metrics returns the counters and the sample summaries sorted by name.
func (env *Env) Metrics() []Metric {
	list := make([]Metric, 0, len(env.metrics)+4*len(env.samples))

	for name, v := range env.metrics {
		list = append(list, Metric{Name: name, Value: v})
	}

	for name, xs := range env.samples {
		list = append(list,
			Metric{Name: name + ".count", Value: float64(len(xs))},
			Metric{Name: name + ".mean", Value: stat.Mean(xs, nil)},
			Metric{Name: name + ".max", Value: maxOf(xs)},
		)

		if len(xs) > 1 {
			list = append(list, Metric{
				Name:  name + ".stddev",
				Value: stat.StdDev(xs, nil),
			})
		}
	}

	for _, s := range env.stores {
		list = append(list, Metric{
			Name:  "store." + s.Name() + ".items",
			Value: float64(s.Len()),
		})
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	return list
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}

	return m
}
