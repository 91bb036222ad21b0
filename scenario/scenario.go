// Package scenario provides example models built on the engine, a YAML
// configuration for them, and a runner that turns a run into a report.
package scenario

import (
	"fmt"
	"sort"
	"strings"
)

// A Model builds the processes and resources of a scenario.
type Model interface {
	// Name returns the name used to select the model.
	Name() string

	// Description returns a one-line summary.
	Description() string

	// DefaultUntil returns the horizon used when the configuration sets
	// none. Zero runs until no event is left.
	DefaultUntil() float64

	// Setup creates the processes and resources of the model.
	Setup(env *Env, cfg *Config) error
}

var models = map[string]Model{}

func register(m Model) {
	if _, ok := models[m.Name()]; ok {
		panic("model " + m.Name() + " registered twice")
	}

	models[m.Name()] = m
}

func init() {
	register(bank{})
	register(carwash{})
	register(machineShop{})
}

// Names returns the names of the models, sorted.
func Names() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Lookup returns the model with the given name.
func Lookup(name string) (Model, error) {
	m, ok := models[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q, available: %s",
			name, strings.Join(Names(), ", "))
	}

	return m, nil
}
