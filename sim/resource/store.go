package resource

import (
	"container/list"
	"fmt"

	"github.com/sarchlab/procsim/sim"
	"github.com/sirupsen/logrus"
)

type storeOp int

const (
	storePut storeOp = iota
	storeGet
)

// A StoreRequest is a pending Put or Get on a Store.
type StoreRequest struct {
	store *Store
	op    storeOp
	item  any
	done  *sim.Event
	elem  *list.Element
}

// Event returns the event that fires when the request completes. A Get
// event carries the item taken. A Put event carries the item stored.
func (sr *StoreRequest) Event() *sim.Event {
	return sr.done
}

// Cancel withdraws a request that has not completed.
func (sr *StoreRequest) Cancel() error {
	if sr.elem == nil {
		return fmt.Errorf("store %s: %w", sr.store.name, ErrNotQueued)
	}

	sr.store.withdraw(sr)

	return nil
}

// A Store holds up to capacity items. Put waits while the store is full and
// Get waits while it is empty, both in FIFO order.
type Store struct {
	engine   sim.Engine
	name     string
	capacity int
	log      *logrus.Entry

	items   *list.List
	putters *list.List
	getters *list.List
}

// NewStore creates a store.
func NewStore(engine sim.Engine, name string, capacity int) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("store %s: %w", name, ErrInvalidCapacity)
	}

	s := &Store{
		engine:   engine,
		name:     name,
		capacity: capacity,
		log:      logrus.WithField("store", name),
		items:    list.New(),
		putters:  list.New(),
		getters:  list.New(),
	}

	engine.RegisterSimulationEndHandler(s)

	return s, nil
}

// Name returns the name of the store.
func (s *Store) Name() string {
	return s.name
}

// Len returns the number of items in the store.
func (s *Store) Len() int {
	return s.items.Len()
}

// Items returns the items in the order Get returns them.
func (s *Store) Items() []any {
	items := make([]any, 0, s.items.Len())
	for e := s.items.Front(); e != nil; e = e.Next() {
		items = append(items, e.Value)
	}

	return items
}

// Handle reports puts and gets still queued when the simulation ends.
func (s *Store) Handle(now sim.VTimeInSec, d sim.Diagnoser) {
	if s.putters.Len() == 0 && s.getters.Len() == 0 {
		return
	}

	d.Report(sim.Diagnostic{
		Kind:    sim.DiagnosticResourceLeak,
		Subject: s.name,
		Message: fmt.Sprintf("%d puts and %d gets queued, %d items stored",
			s.putters.Len(), s.getters.Len(), s.items.Len()),
		Time: now,
	})
}

// Put adds an item once there is room.
func (s *Store) Put(item any) *StoreRequest {
	sr := s.newRequest(storePut, item)
	sr.elem = s.putters.PushBack(sr)
	s.settle()

	return sr
}

// Get takes the oldest item once there is one.
func (s *Store) Get() *StoreRequest {
	sr := s.newRequest(storeGet, nil)
	sr.elem = s.getters.PushBack(sr)
	s.settle()

	return sr
}

func (s *Store) newRequest(op storeOp, item any) *StoreRequest {
	name := "put:" + s.name
	if op == storeGet {
		name = "get:" + s.name
	}

	sr := &StoreRequest{
		store: s,
		op:    op,
		item:  item,
		done:  s.engine.NewEvent(name),
	}
	sr.done.OnAbandon(func(*sim.Event) { s.abandon(sr) })

	return sr
}

// abandon runs when the process waiting on a request is interrupted away
// from it. A Get that already took an item returns it to the front of the
// store, which may then hold one item above capacity until the next Get.
func (s *Store) abandon(sr *StoreRequest) {
	switch {
	case sr.elem != nil:
		s.withdraw(sr)
	case sr.op == storeGet && !sr.done.Processed():
		s.items.PushFront(sr.item)
		sr.item = nil
		s.log.WithField("event", sr.done.String()).
			Debug("item of an abandoned get returned")
		s.settle()
	}
}

// settle completes queued puts and gets until neither can progress.
func (s *Store) settle() {
	for {
		progressed := false

		if s.putters.Len() > 0 && s.items.Len() < s.capacity {
			sr := s.putters.Remove(s.putters.Front()).(*StoreRequest)
			sr.elem = nil
			s.items.PushBack(sr.item)
			s.complete(sr, sr.item)

			progressed = true
		}

		if s.getters.Len() > 0 && s.items.Len() > 0 {
			sr := s.getters.Remove(s.getters.Front()).(*StoreRequest)
			sr.elem = nil
			item := s.items.Remove(s.items.Front())
			sr.item = item
			s.complete(sr, item)

			progressed = true
		}

		if !progressed {
			return
		}
	}
}

func (s *Store) complete(sr *StoreRequest, item any) {
	if err := sr.done.Succeed(item); err != nil {
		s.log.Panicf("completing %s: %v", sr.done, err)
	}

	s.log.WithFields(logrus.Fields{
		"event": sr.done.String(),
		"items": s.items.Len(),
	}).Debug("store request completed")
}

func (s *Store) withdraw(sr *StoreRequest) {
	if sr.op == storePut {
		s.putters.Remove(sr.elem)
	} else {
		s.getters.Remove(sr.elem)
	}

	sr.elem = nil

	if sr.done.State() == sim.EventPending {
		_ = sr.done.Cancel()
	}
}
