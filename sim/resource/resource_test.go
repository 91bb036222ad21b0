package resource

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/procsim/sim"
	"go.uber.org/mock/gomock"
)

// use returns a process step that acquires one unit of r, holds it for d and
// releases it. The process name is appended to grants when granted.
func use(
	r *Resource,
	d sim.VTimeInSec,
	grants *[]string,
	opts ...AcquireOption,
) sim.Step {
	return func(p *sim.Process, o sim.Outcome) sim.Yield {
		req := r.Acquire(opts...)

		return p.Wait(req.Granted(), sim.OnSuccess(
			func(p *sim.Process, o sim.Outcome) sim.Yield {
				*grants = append(*grants, p.Name())

				return p.Hold(d, func(p *sim.Process, o sim.Outcome) sim.Yield {
					if err := req.Release(); err != nil {
						return p.Fail(err)
					}

					return p.Exit(p.Now())
				})
			}))
	}
}

var _ = Describe("Resource", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *sim.SerialEngine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = sim.NewSerialEngine()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should reject a capacity below one", func() {
		_, err := New(engine, "bad", 0)

		Expect(errors.Is(err, ErrInvalidCapacity)).To(BeTrue())
	})

	It("should grant at once when a unit is free", func() {
		r, _ := New(engine, "pool", 2)

		req := r.Acquire()

		Expect(req.IsGranted()).To(BeTrue())
		Expect(req.Granted().State()).To(Equal(sim.EventTriggered))
		Expect(r.InUse()).To(Equal(1))
		Expect(req.Owner()).To(BeNil())
		Expect(req.String()).To(Equal("pool.req1"))
	})

	It("should hand a lock over at the release time", func() {
		lock := NewLock(engine, "lock")

		var bGrant *sim.Event
		var bDone sim.VTimeInSec

		engine.Spawn("A", func(p *sim.Process, o sim.Outcome) sim.Yield {
			req := lock.Acquire()

			return p.Wait(req.Granted(), func(p *sim.Process, o sim.Outcome) sim.Yield {
				return p.Hold(5, func(p *sim.Process, o sim.Outcome) sim.Yield {
					_ = req.Release()
					return p.Exit(nil)
				})
			})
		})

		engine.Spawn("B", func(p *sim.Process, o sim.Outcome) sim.Yield {
			return p.Hold(1, func(p *sim.Process, o sim.Outcome) sim.Yield {
				req := lock.Acquire()
				bGrant = req.Granted()

				return p.Wait(req.Granted(), func(p *sim.Process, o sim.Outcome) sim.Yield {
					return p.Hold(3, func(p *sim.Process, o sim.Outcome) sim.Yield {
						bDone = p.Now()
						_ = req.Release()
						return p.Exit(nil)
					})
				})
			})
		})

		Expect(engine.RunUntil(20)).To(Succeed())

		Expect(bGrant.Processed()).To(BeTrue())
		Expect(bGrant.Time()).To(Equal(sim.VTimeInSec(5)))
		Expect(bDone).To(Equal(sim.VTimeInSec(8)))
		Expect(lock.InUse()).To(Equal(0))

		stats := lock.Stats()
		Expect(stats.Grants).To(Equal(uint64(2)))
		Expect(stats.Releases).To(Equal(uint64(2)))
		Expect(stats.TotalWait).To(Equal(sim.VTimeInSec(4)))
		Expect(stats.BusyTime).To(Equal(sim.VTimeInSec(8)))
		Expect(stats.UsageArea).To(Equal(sim.VTimeInSec(8)))
		Expect(stats.QueueArea).To(Equal(sim.VTimeInSec(4)))
		Expect(stats.MaxQueueLength).To(Equal(1))
		Expect(stats.Until).To(Equal(sim.VTimeInSec(20)))
		Expect(stats.Utilization()).To(BeNumerically("~", 0.4))
		Expect(stats.AverageWait()).To(Equal(sim.VTimeInSec(2)))
		Expect(engine.Finished()).To(BeEmpty())
	})

	It("should average statistics from the creation of the resource", func() {
		var lock *Resource

		engine.Spawn("late", func(p *sim.Process, o sim.Outcome) sim.Yield {
			return p.Hold(10, func(p *sim.Process, o sim.Outcome) sim.Yield {
				lock = NewLock(engine, "late")
				req := lock.Acquire()

				return p.Wait(req.Granted(), sim.OnSuccess(
					func(p *sim.Process, o sim.Outcome) sim.Yield {
						return p.Hold(5, func(p *sim.Process, o sim.Outcome) sim.Yield {
							_ = req.Release()
							return p.Exit(nil)
						})
					}))
			})
		})

		Expect(engine.RunUntil(20)).To(Succeed())

		stats := lock.Stats()
		Expect(stats.Since).To(Equal(sim.VTimeInSec(10)))
		Expect(stats.Until).To(Equal(sim.VTimeInSec(20)))
		Expect(stats.Utilization()).To(BeNumerically("~", 0.5))
		Expect(stats.AverageQueueLength()).To(BeZero())
	})

	It("should grant a unit resource in arrival order", func() {
		lock := NewLock(engine, "lock")
		var grants []string

		for _, name := range []string{"p0", "p1", "p2", "p3"} {
			engine.Spawn(name, use(lock, 1, &grants))
		}

		Expect(engine.Run()).To(Succeed())

		Expect(grants).To(Equal([]string{"p0", "p1", "p2", "p3"}))
		Expect(engine.CurrentTime()).To(Equal(sim.VTimeInSec(4)))
	})

	It("should grant by priority and then by arrival", func() {
		lock := NewLock(engine, "lock")
		var grants []string

		engine.Spawn("holder", use(lock, 10, &grants))

		arrivals := []struct {
			name     string
			priority int
		}{
			{"low", 3},
			{"high1", 1},
			{"high2", 1},
		}
		for _, a := range arrivals {
			step := use(lock, 1, &grants, Priority(a.priority))
			engine.Spawn(a.name, func(p *sim.Process, o sim.Outcome) sim.Yield {
				return p.Hold(1, step)
			})
		}

		Expect(engine.RunUntil(1)).To(Succeed())
		queued := lock.Queued()
		Expect(queued).To(HaveLen(3))
		Expect(queued[0].Owner().Name()).To(Equal("high1"))
		Expect(queued[2].Owner().Name()).To(Equal("low"))

		Expect(engine.Run()).To(Succeed())

		Expect(grants).To(Equal([]string{"holder", "high1", "high2", "low"}))
	})

	It("should let several holders share the units", func() {
		pool, _ := New(engine, "pool", 2)
		var grants []string

		for _, name := range []string{"a", "b", "c"} {
			engine.Spawn(name, use(pool, 2, &grants))
		}

		Expect(engine.RunUntil(1)).To(Succeed())
		Expect(pool.InUse()).To(Equal(2))
		Expect(pool.QueueLength()).To(Equal(1))
		Expect(pool.Users()[0].Owner().Name()).To(Equal("a"))

		Expect(engine.Run()).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(sim.VTimeInSec(4)))
		Expect(pool.Stats().Utilization()).To(BeNumerically("~", 0.75))
	})

	Context("when releasing", func() {
		It("should reject a second release", func() {
			lock := NewLock(engine, "lock")
			req := lock.Acquire()

			Expect(req.Release()).To(Succeed())
			err := req.Release()

			Expect(errors.Is(err, ErrDoubleRelease)).To(BeTrue())
			Expect(lock.InUse()).To(Equal(0))
		})

		It("should withdraw a queued request", func() {
			lock := NewLock(engine, "lock")
			holder := lock.Acquire()
			waiter := lock.Acquire()

			Expect(waiter.IsQueued()).To(BeTrue())
			Expect(waiter.Release()).To(Succeed())
			Expect(waiter.Granted().State()).To(Equal(sim.EventCancelled))
			Expect(lock.QueueLength()).To(Equal(0))

			Expect(holder.Release()).To(Succeed())
			Expect(lock.InUse()).To(Equal(0))
			Expect(lock.Stats().Withdrawals).To(Equal(uint64(1)))
		})

		It("should only cancel queued requests", func() {
			lock := NewLock(engine, "lock")
			holder := lock.Acquire()
			waiter := lock.Acquire()

			Expect(errors.Is(holder.Cancel(), ErrNotQueued)).To(BeTrue())
			Expect(waiter.Cancel()).To(Succeed())
			Expect(errors.Is(waiter.Cancel(), ErrDoubleRelease)).To(BeTrue())
		})
	})

	It("should withdraw the request of an interrupted waiter", func() {
		lock := NewLock(engine, "lock")
		var grants []string

		engine.Spawn("holder", use(lock, 10, &grants))
		waiter := engine.Spawn("waiter", use(lock, 1, &grants))
		engine.Spawn("interrupter", func(p *sim.Process, o sim.Outcome) sim.Yield {
			return p.Hold(1, func(p *sim.Process, o sim.Outcome) sim.Yield {
				_ = engine.Interrupt(waiter, "give up")
				return p.Exit(nil)
			})
		})

		Expect(engine.RunUntil(2)).To(Succeed())
		Expect(lock.QueueLength()).To(Equal(0))
		Expect(sim.IsInterrupt(waiter.Err())).To(BeTrue())

		Expect(engine.Run()).To(Succeed())
		Expect(grants).To(Equal([]string{"holder"}))
		Expect(lock.Stats().Withdrawals).To(Equal(uint64(1)))
		Expect(engine.Finished()).To(BeEmpty())
	})

	It("should report leaks when the simulation ends", func() {
		lock := NewLock(engine, "lock")

		engine.Spawn("forgetful", func(p *sim.Process, o sim.Outcome) sim.Yield {
			lock.Acquire()
			return p.Exit(nil)
		})
		engine.Spawn("stuck", func(p *sim.Process, o sim.Outcome) sim.Yield {
			req := lock.Acquire()
			return p.Wait(req.Granted(), nil)
		})

		Expect(engine.Run()).To(Succeed())

		diagnostics := engine.Finished()
		Expect(diagnostics).To(HaveLen(2))
		Expect(diagnostics[0].Kind).To(Equal(sim.DiagnosticResourceLeak))
		Expect(diagnostics[0].Subject).To(Equal("lock"))
		Expect(diagnostics[0].Message).
			To(Equal("1 of 1 units in use, 1 requests queued"))
		Expect(diagnostics[1].Kind).To(Equal(sim.DiagnosticProcessPending))
		Expect(diagnostics[1].Message).To(ContainSubstring("grant:lock.req2"))
	})

	It("should invoke hooks at each request transition", func() {
		lock := NewLock(engine, "lock")
		hook := NewMockHook(mockCtrl)
		lock.AcceptHook(hook)

		var positions []string
		hook.EXPECT().Func(gomock.Any()).
			Do(func(ctx sim.HookCtx) {
				Expect(ctx.Domain).To(BeIdenticalTo(lock))
				Expect(ctx.Item).To(BeAssignableToTypeOf(&Request{}))
				positions = append(positions, ctx.Pos.Name)
			}).
			Times(5)

		first := lock.Acquire()
		second := lock.Acquire()
		Expect(second.Cancel()).To(Succeed())
		Expect(first.Release()).To(Succeed())

		Expect(positions).To(Equal([]string{
			"ResourceAcquire",
			"ResourceGrant",
			"ResourceAcquire",
			"ResourceWithdraw",
			"ResourceRelease",
		}))
	})

	Context("with preemption", func() {
		It("should interrupt the less important holder", func() {
			server := NewLock(engine, "server", WithPreemption())

			var cause *Preempted
			var regrantedAt sim.VTimeInSec
			var workReq *Request

			worker := engine.Spawn("worker", func(p *sim.Process, o sim.Outcome) sim.Yield {
				workReq = server.Acquire(Priority(5))

				return p.Wait(workReq.Granted(), func(p *sim.Process, o sim.Outcome) sim.Yield {
					return p.Hold(10, func(p *sim.Process, o sim.Outcome) sim.Yield {
						preempted, ok := IsPreempted(o.Err)
						if !ok {
							return p.Fail(errors.New("expected a preemption"))
						}
						cause = preempted

						return p.Wait(workReq.Granted(), func(p *sim.Process, o sim.Outcome) sim.Yield {
							regrantedAt = p.Now()
							return p.Hold(1, func(p *sim.Process, o sim.Outcome) sim.Yield {
								_ = workReq.Release()
								return p.Exit(nil)
							})
						})
					})
				})
			})

			var urgentReq *Request
			engine.Spawn("urgent", func(p *sim.Process, o sim.Outcome) sim.Yield {
				return p.Hold(2, func(p *sim.Process, o sim.Outcome) sim.Yield {
					urgentReq = server.Acquire(Priority(0))

					return p.Wait(urgentReq.Granted(), func(p *sim.Process, o sim.Outcome) sim.Yield {
						return p.Hold(3, func(p *sim.Process, o sim.Outcome) sim.Yield {
							_ = urgentReq.Release()
							return p.Exit(nil)
						})
					})
				})
			})

			Expect(engine.Run()).To(Succeed())

			Expect(worker.State()).To(Equal(sim.ProcessFinished))
			Expect(cause.Resource).To(Equal("server"))
			Expect(cause.By).To(BeIdenticalTo(urgentReq))
			Expect(cause.Since).To(Equal(sim.VTimeInSec(0)))
			Expect(regrantedAt).To(Equal(sim.VTimeInSec(5)))
			Expect(workReq.Preemptions()).To(Equal(1))
			Expect(workReq.GrantedAt()).To(Equal(sim.VTimeInSec(5)))
			Expect(engine.CurrentTime()).To(Equal(sim.VTimeInSec(10)))

			stats := server.Stats()
			Expect(stats.Preemptions).To(Equal(uint64(1)))
			Expect(stats.BusyTime).To(Equal(sim.VTimeInSec(6)))
		})

		It("should not preempt a holder of equal priority", func() {
			server := NewLock(engine, "server", WithPreemption())
			holder := server.Acquire(Priority(1))
			other := server.Acquire(Priority(1))

			Expect(holder.IsGranted()).To(BeTrue())
			Expect(other.IsQueued()).To(BeTrue())
			Expect(server.Stats().Preemptions).To(BeZero())
		})

		It("should not preempt for a request that opts out", func() {
			server := NewLock(engine, "server", WithPreemption())
			holder := server.Acquire(Priority(5))
			other := server.Acquire(Priority(0), NoPreempt())

			Expect(holder.IsGranted()).To(BeTrue())
			Expect(other.IsQueued()).To(BeTrue())
		})

		It("should pick the latest granted among the least important", func() {
			pool, _ := New(engine, "pool", 2, WithPreemption())

			first := pool.Acquire(Priority(3))
			var second *Request
			engine.Spawn("late", func(p *sim.Process, o sim.Outcome) sim.Yield {
				return p.Hold(1, func(p *sim.Process, o sim.Outcome) sim.Yield {
					second = pool.Acquire(Priority(3))
					return p.Exit(nil)
				})
			})
			Expect(engine.Run()).To(Succeed())

			urgent := pool.Acquire(Priority(0))

			Expect(urgent.IsGranted()).To(BeTrue())
			Expect(first.IsGranted()).To(BeTrue())
			Expect(second.IsQueued()).To(BeTrue())
			Expect(second.Preemptions()).To(Equal(1))
		})

		It("should not preempt on a resource without preemption", func() {
			lock := NewLock(engine, "lock")
			holder := lock.Acquire(Priority(5))
			other := lock.Acquire(Priority(0))

			Expect(holder.IsGranted()).To(BeTrue())
			Expect(other.IsQueued()).To(BeTrue())
			Expect(lock.Preemptive()).To(BeFalse())
		})
	})
})
