package resource

import (
	"fmt"

	"github.com/sarchlab/procsim/sim"
)

type requestState int

const (
	requestNew requestState = iota
	requestQueued
	requestGranted
	requestReleased
	requestCancelled
)

func (s requestState) String() string {
	switch s {
	case requestNew:
		return "new"
	case requestQueued:
		return "queued"
	case requestGranted:
		return "granted"
	case requestReleased:
		return "released"
	case requestCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("requestState(%d)", int(s))
	}
}

// An AcquireOption configures a request.
type AcquireOption func(req *Request)

// Priority sets the priority of the request. Lower values are more
// important. The default is 0.
func Priority(p int) AcquireOption {
	return func(req *Request) {
		req.priority = p
	}
}

// NoPreempt keeps the request from preempting holders of a preemptive
// resource.
func NoPreempt() AcquireOption {
	return func(req *Request) {
		req.preempt = false
	}
}

// A Request is the handle of one unit asked from a Resource. It is the only
// way to give the unit back.
type Request struct {
	res      *Resource
	seq      uint64
	priority int
	preempt  bool
	owner    *sim.Process

	state   requestState
	granted *sim.Event
	index   int

	requestedAt sim.VTimeInSec
	grantedAt   sim.VTimeInSec
	releasedAt  sim.VTimeInSec
	preemptions int
}

func (req *Request) String() string {
	return fmt.Sprintf("%s.req%d", req.res.name, req.seq)
}

// Resource returns the resource the request was made to.
func (req *Request) Resource() *Resource {
	return req.res
}

// Priority returns the priority of the request.
func (req *Request) Priority() int {
	return req.priority
}

// Owner returns the process that made the request, or nil if it was made
// outside any process.
func (req *Request) Owner() *sim.Process {
	return req.owner
}

// Granted returns the event that fires when the unit is granted. Its value is
// the request. After a preemption the request gets a new grant event.
func (req *Request) Granted() *sim.Event {
	return req.granted
}

// IsGranted tells if the request holds a unit.
func (req *Request) IsGranted() bool {
	return req.state == requestGranted
}

// IsQueued tells if the request waits for a unit.
func (req *Request) IsQueued() bool {
	return req.state == requestQueued
}

// RequestedAt returns the time the request last entered the resource.
func (req *Request) RequestedAt() sim.VTimeInSec {
	return req.requestedAt
}

// GrantedAt returns the time the request was last granted.
func (req *Request) GrantedAt() sim.VTimeInSec {
	return req.grantedAt
}

// Preemptions returns how many times the request lost its unit.
func (req *Request) Preemptions() int {
	return req.preemptions
}

// Release gives the unit back. A request that is still queued is withdrawn.
// Releasing twice returns ErrDoubleRelease.
func (req *Request) Release() error {
	switch req.state {
	case requestGranted:
		req.res.release(req)
	case requestQueued:
		req.res.withdraw(req)
	default:
		return fmt.Errorf("%s: %w", req, ErrDoubleRelease)
	}

	return nil
}

// Cancel withdraws a queued request.
func (req *Request) Cancel() error {
	switch req.state {
	case requestQueued:
		req.res.withdraw(req)
		return nil
	case requestReleased, requestCancelled:
		return fmt.Errorf("%s: %w", req, ErrDoubleRelease)
	default:
		return fmt.Errorf("%s is %s: %w", req, req.state, ErrNotQueued)
	}
}

func (req *Request) arm() {
	ev := req.res.engine.NewEvent("grant:" + req.String())
	ev.OnAbandon(req.abandon)
	req.granted = ev
}

// abandon runs when the process waiting on the grant event is interrupted
// away from it.
func (req *Request) abandon(ev *sim.Event) {
	if ev != req.granted {
		return
	}

	switch req.state {
	case requestQueued:
		req.res.withdraw(req)
	case requestGranted:
		req.res.release(req)
	}
}

func (req *Request) taskID(kind string) string {
	return fmt.Sprintf("%s.%s.%d", req, kind, req.preemptions)
}

func (req *Request) ownerTaskID() string {
	if req.owner == nil {
		return ""
	}

	return req.owner.String()
}
