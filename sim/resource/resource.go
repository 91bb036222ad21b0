// Package resource provides shared resources that processes acquire and
// release: counted resources with optional priorities and preemption, and
// item stores.
package resource

import (
	"container/heap"
	"fmt"

	"github.com/sarchlab/procsim/sim"
	"github.com/sarchlab/procsim/tracing"
	"github.com/sirupsen/logrus"
)

// An Option configures a Resource.
type Option func(r *Resource)

// WithPreemption lets important requests take units from less important
// holders.
func WithPreemption() Option {
	return func(r *Resource) {
		r.preemptive = true
	}
}

// WithLogger sets the logger of the resource.
func WithLogger(entry *logrus.Entry) Option {
	return func(r *Resource) {
		r.log = entry.WithField("resource", r.name)
	}
}

// A Resource is a pool of identical units. Processes acquire units through
// requests and wait on the grant events of the requests. Requests are granted
// by priority and then by arrival.
type Resource struct {
	*sim.HookableBase

	engine     sim.Engine
	name       string
	capacity   int
	preemptive bool
	log        *logrus.Entry

	users   []*Request
	queue   requestQueue
	nextSeq uint64

	stats      Stats
	lastChange sim.VTimeInSec
}

// New creates a resource with the given number of units.
func New(
	engine sim.Engine,
	name string,
	capacity int,
	opts ...Option,
) (*Resource, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("resource %s: %w", name, ErrInvalidCapacity)
	}

	r := &Resource{
		HookableBase: sim.NewHookableBase(),
		engine:       engine,
		name:         name,
		capacity:     capacity,
		log:          logrus.WithField("resource", name),
		lastChange:   engine.CurrentTime(),
	}
	r.stats.Name = name
	r.stats.Capacity = capacity
	r.stats.Since = r.lastChange

	for _, opt := range opts {
		opt(r)
	}

	heap.Init(&r.queue)
	engine.RegisterSimulationEndHandler(r)

	return r, nil
}

// NewLock creates a resource with a single unit.
func NewLock(engine sim.Engine, name string, opts ...Option) *Resource {
	r, err := New(engine, name, 1, opts...)
	if err != nil {
		panic(err)
	}

	return r
}

// Name returns the name of the resource.
func (r *Resource) Name() string {
	return r.name
}

// Capacity returns the number of units.
func (r *Resource) Capacity() int {
	return r.capacity
}

// Preemptive tells if the resource preempts holders.
func (r *Resource) Preemptive() bool {
	return r.preemptive
}

// InUse returns the number of granted units.
func (r *Resource) InUse() int {
	return len(r.users)
}

// QueueLength returns the number of requests waiting for a unit.
func (r *Resource) QueueLength() int {
	return r.queue.Len()
}

// Users returns the granted requests in grant order.
func (r *Resource) Users() []*Request {
	return append([]*Request(nil), r.users...)
}

// Queued returns the waiting requests in the order they will be granted.
func (r *Resource) Queued() []*Request {
	list := append([]*Request(nil), r.queue...)
	sortRequests(list)

	return list
}

// Acquire asks for one unit. The request is granted at once if a unit is
// free, otherwise it waits in the queue. Either way the process observes the
// grant only by waiting on Granted.
func (r *Resource) Acquire(opts ...AcquireOption) *Request {
	r.nextSeq++

	req := &Request{
		res:         r,
		seq:         r.nextSeq,
		preempt:     true,
		owner:       r.engine.ActiveProcess(),
		requestedAt: r.engine.CurrentTime(),
		index:       -1,
	}

	for _, opt := range opts {
		opt(req)
	}

	req.arm()

	r.invokeHook(HookPosAcquire, req)
	tracing.StartTask(req.taskID("wait"), req.ownerTaskID(), r,
		"wait", "acquire", req)

	if len(r.users) < r.capacity {
		r.grant(req)
		return req
	}

	r.enqueue(req)

	if r.preemptive && req.preempt && r.tryPreempt(req) {
		r.dispatch()
	}

	return req
}

func (r *Resource) enqueue(req *Request) {
	r.accumulate(r.engine.CurrentTime())

	req.state = requestQueued
	heap.Push(&r.queue, req)

	if r.queue.Len() > r.stats.MaxQueueLength {
		r.stats.MaxQueueLength = r.queue.Len()
	}

	r.log.WithFields(logrus.Fields{
		"request":  req.String(),
		"queue":    r.queue.Len(),
		"priority": req.priority,
	}).Debug("request queued")
}

func (r *Resource) grant(req *Request) {
	now := r.engine.CurrentTime()
	r.accumulate(now)

	req.state = requestGranted
	req.grantedAt = now
	r.users = append(r.users, req)

	r.stats.Grants++
	r.stats.TotalWait += now - req.requestedAt

	if err := req.granted.Succeed(req); err != nil {
		r.log.Panicf("granting %s: %v", req, err)
	}

	r.invokeHook(HookPosGrant, req)
	tracing.EndTask(req.taskID("wait"), r)
	tracing.StartTask(req.taskID("hold"), req.ownerTaskID(), r,
		"hold", "use", req)

	r.log.WithFields(logrus.Fields{
		"request": req.String(),
		"in_use":  len(r.users),
	}).Debug("request granted")
}

// tryPreempt frees the unit of the least important holder if it is strictly
// less important than the request. The holder goes back to the queue and its
// owner is interrupted with a Preempted cause.
func (r *Resource) tryPreempt(req *Request) bool {
	victim := r.victim()
	if victim == nil || victim.priority <= req.priority {
		return false
	}

	now := r.engine.CurrentTime()
	r.accumulate(now)
	r.removeUser(victim)
	r.stats.Preemptions++
	r.stats.BusyTime += now - victim.grantedAt

	tracing.AddTaskStep(victim.taskID("hold"), r, "preempted")
	tracing.EndTask(victim.taskID("hold"), r)
	r.invokeHook(HookPosPreempt, victim)

	since := victim.grantedAt
	victim.arm()
	victim.requestedAt = now
	victim.preemptions++
	r.enqueue(victim)
	tracing.StartTask(victim.taskID("wait"), victim.ownerTaskID(), r,
		"wait", "reacquire", victim)

	r.log.WithFields(logrus.Fields{
		"victim": victim.String(),
		"by":     req.String(),
	}).Debug("request preempted")

	owner := victim.owner
	if owner != nil && owner.IsAlive() {
		err := r.engine.Interrupt(owner, &Preempted{
			Resource: r.name,
			By:       req,
			Since:    since,
		})
		if err != nil {
			r.log.WithError(err).
				WithField("process", owner.String()).
				Debug("preempted owner not interrupted")
		}
	}

	return true
}

// victim returns the holder with the largest priority number, then the
// latest grant, then the latest arrival.
func (r *Resource) victim() *Request {
	var v *Request

	for _, u := range r.users {
		if v == nil || lessImportant(u, v) {
			v = u
		}
	}

	return v
}

func lessImportant(a, b *Request) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}

	if a.grantedAt != b.grantedAt {
		return a.grantedAt > b.grantedAt
	}

	return a.seq > b.seq
}

func (r *Resource) release(req *Request) {
	now := r.engine.CurrentTime()
	r.accumulate(now)
	r.removeUser(req)

	req.state = requestReleased
	req.releasedAt = now
	r.stats.Releases++
	r.stats.BusyTime += now - req.grantedAt

	r.invokeHook(HookPosRelease, req)
	tracing.EndTask(req.taskID("hold"), r)

	r.log.WithFields(logrus.Fields{
		"request": req.String(),
		"in_use":  len(r.users),
	}).Debug("request released")

	r.dispatch()
}

func (r *Resource) withdraw(req *Request) {
	r.accumulate(r.engine.CurrentTime())

	heap.Remove(&r.queue, req.index)
	req.state = requestCancelled
	r.stats.Withdrawals++

	if req.granted.State() == sim.EventPending {
		_ = req.granted.Cancel()
	}

	r.invokeHook(HookPosWithdraw, req)
	tracing.EndTask(req.taskID("wait"), r)

	r.log.WithField("request", req.String()).Debug("request withdrawn")
}

func (r *Resource) dispatch() {
	r.accumulate(r.engine.CurrentTime())

	for len(r.users) < r.capacity && r.queue.Len() > 0 {
		next := heap.Pop(&r.queue).(*Request)
		r.grant(next)
	}
}

func (r *Resource) removeUser(req *Request) {
	for i, u := range r.users {
		if u == req {
			r.users = append(r.users[:i], r.users[i+1:]...)
			return
		}
	}

	r.log.Panicf("request %s is not a user of %s", req, r.name)
}

// accumulate integrates the usage and the queue length up to now.
func (r *Resource) accumulate(now sim.VTimeInSec) {
	dt := now - r.lastChange
	r.stats.UsageArea += dt * sim.VTimeInSec(len(r.users))
	r.stats.QueueArea += dt * sim.VTimeInSec(r.queue.Len())
	r.lastChange = now
}

func (r *Resource) invokeHook(pos *sim.HookPos, req *Request) {
	if r.NumHooks() == 0 {
		return
	}

	r.InvokeHook(sim.HookCtx{
		Domain: r,
		Now:    r.engine.CurrentTime(),
		Pos:    pos,
		Item:   req,
	})
}

// Stats returns the statistics of the resource up to now.
func (r *Resource) Stats() Stats {
	now := r.engine.CurrentTime()
	r.accumulate(now)

	s := r.stats
	s.InUse = len(r.users)
	s.QueueLength = r.queue.Len()
	s.Until = now

	return s
}

// Handle reports units still held and requests still queued when the
// simulation ends.
func (r *Resource) Handle(now sim.VTimeInSec, d sim.Diagnoser) {
	if len(r.users) == 0 && r.queue.Len() == 0 {
		return
	}

	d.Report(sim.Diagnostic{
		Kind:    sim.DiagnosticResourceLeak,
		Subject: r.name,
		Message: fmt.Sprintf("%d of %d units in use, %d requests queued",
			len(r.users), r.capacity, r.queue.Len()),
		Time: now,
	})
}
