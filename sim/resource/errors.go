package resource

import (
	"errors"
	"fmt"

	"github.com/sarchlab/procsim/sim"
)

var (
	// ErrInvalidCapacity is returned when creating a resource or a store with
	// a capacity smaller than one.
	ErrInvalidCapacity = errors.New("capacity must be at least 1")

	// ErrDoubleRelease is returned when a request is released or cancelled
	// after it was already released or cancelled.
	ErrDoubleRelease = errors.New("request already released")

	// ErrNotQueued is returned when cancelling a request that is not waiting
	// in the queue.
	ErrNotQueued = errors.New("request is not queued")
)

// Preempted is the interrupt cause a process observes when a more important
// request takes its unit of a preemptive resource.
type Preempted struct {
	Resource string
	By       *Request
	Since    sim.VTimeInSec
}

func (p *Preempted) Error() string {
	return fmt.Sprintf("preempted on %s by request with priority %d "+
		"(held since %v)", p.Resource, p.By.Priority(), float64(p.Since))
}

// IsPreempted tells if the error is caused by a preemption. It returns the
// preemption detail if so.
func IsPreempted(err error) (*Preempted, bool) {
	var p *Preempted
	if errors.As(err, &p) {
		return p, true
	}

	return nil, false
}
