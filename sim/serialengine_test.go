package sim

import (
	"errors"
	"math/rand"
	"sort"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gmeasure"
	"go.uber.org/mock/gomock"
)

var _ = Describe("SerialEngine", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *SerialEngine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewSerialEngine()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should deliver events in time and creation order", func() {
		r := rand.New(rand.NewSource(42))

		var fired []*Event
		for i := 0; i < 500; i++ {
			evt, err := engine.Timeout(VTimeInSec(r.Intn(20)))
			Expect(err).NotTo(HaveOccurred())
			Expect(evt.OnFire(func(e *Event) { fired = append(fired, e) })).
				To(Succeed())
		}

		Expect(engine.Run()).To(Succeed())

		Expect(fired).To(HaveLen(500))
		Expect(sort.SliceIsSorted(fired, func(i, j int) bool {
			if fired[i].Time() != fired[j].Time() {
				return fired[i].Time() < fired[j].Time()
			}

			return fired[i].ID() < fired[j].ID()
		})).To(BeTrue())
		Expect(engine.CurrentTime()).To(Equal(fired[499].Time()))
		Expect(engine.State()).To(Equal(RunCompleted))
	})

	It("should never see time go backwards across processes", func() {
		r := rand.New(rand.NewSource(7))

		var seen []VTimeInSec
		for i := 0; i < 50; i++ {
			remaining := 5

			var step Step
			step = func(p *Process, o Outcome) Yield {
				seen = append(seen, p.Now())
				if remaining == 0 {
					return p.Exit(nil)
				}
				remaining--

				return p.Hold(VTimeInSec(r.Intn(4)), step)
			}

			engine.Spawn("walker", step)
		}

		Expect(engine.Run()).To(Succeed())

		Expect(seen).To(HaveLen(300))
		Expect(sort.SliceIsSorted(seen, func(i, j int) bool {
			return seen[i] < seen[j]
		})).To(BeTrue())
	})

	It("should settle zero-delay chains at one instant", func() {
		var times []VTimeInSec

		engine.Spawn("zero", func(p *Process, o Outcome) Yield {
			return p.Hold(0, func(p *Process, o Outcome) Yield {
				times = append(times, p.Now())
				return p.Hold(0, func(p *Process, o Outcome) Yield {
					times = append(times, p.Now())
					return p.Exit(nil)
				})
			})
		})

		engine.Spawn("later", func(p *Process, o Outcome) Yield {
			return p.Hold(1, func(p *Process, o Outcome) Yield {
				times = append(times, p.Now())
				return p.Exit(nil)
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(times).To(Equal([]VTimeInSec{0, 0, 1}))
	})

	It("should not start a process inside Spawn", func() {
		started := false

		p := engine.Spawn("p", func(p *Process, o Outcome) Yield {
			started = true
			return p.Exit(nil)
		})

		Expect(started).To(BeFalse())
		Expect(p.State()).To(Equal(ProcessCreated))

		Expect(engine.Run()).To(Succeed())

		Expect(started).To(BeTrue())
		Expect(p.State()).To(Equal(ProcessFinished))
	})

	It("should report the active process", func() {
		var active *Process

		p := engine.Spawn("p", func(p *Process, o Outcome) Yield {
			active = p.Engine().ActiveProcess()
			return p.Exit(nil)
		})

		Expect(engine.Run()).To(Succeed())

		Expect(active).To(BeIdenticalTo(p))
		Expect(engine.ActiveProcess()).To(BeNil())
	})

	It("should run until the horizon", func() {
		var fired []VTimeInSec
		for _, d := range []VTimeInSec{1, 5, 10} {
			evt, _ := engine.Timeout(d)
			_ = evt.OnFire(func(e *Event) { fired = append(fired, e.Time()) })
		}

		Expect(engine.RunUntil(5)).To(Succeed())

		Expect(fired).To(Equal([]VTimeInSec{1, 5}))
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(5)))
		Expect(engine.State()).To(Equal(RunHorizonReached))

		Expect(engine.RunUntil(3)).To(MatchError(ErrHorizonInPast))

		Expect(engine.Run()).To(Succeed())

		Expect(fired).To(Equal([]VTimeInSec{1, 5, 10}))
		Expect(engine.State()).To(Equal(RunCompleted))
	})

	It("should move the clock to the horizon when the queue drains", func() {
		_, _ = engine.Timeout(2)

		Expect(engine.RunUntil(7)).To(Succeed())

		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(7)))
		Expect(engine.State()).To(Equal(RunHorizonReached))
	})

	It("should stop early", func() {
		engine.Spawn("stopper", func(p *Process, o Outcome) Yield {
			return p.Hold(1, func(p *Process, o Outcome) Yield {
				engine.Stop()
				return p.Exit(nil)
			})
		})
		_, _ = engine.Timeout(5)

		Expect(engine.Run()).To(Succeed())

		Expect(engine.State()).To(Equal(RunStoppedEarly))
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(1)))

		Expect(engine.Run()).To(Succeed())

		Expect(engine.State()).To(Equal(RunCompleted))
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(5)))
	})

	It("should keep a stop requested before the run", func() {
		engine.Spawn("worker", func(p *Process, o Outcome) Yield {
			return p.Hold(5, func(p *Process, o Outcome) Yield {
				return p.Exit(nil)
			})
		})

		engine.Stop()
		Expect(engine.Run()).To(Succeed())

		Expect(engine.State()).To(Equal(RunStoppedEarly))
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(0)))
		Expect(engine.NumProcessed()).To(BeZero())

		Expect(engine.Run()).To(Succeed())

		Expect(engine.State()).To(Equal(RunCompleted))
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(5)))
	})

	It("should reject a nested run", func() {
		var nested error

		engine.Spawn("p", func(p *Process, o Outcome) Yield {
			nested = engine.Run()
			return p.Exit(nil)
		})

		Expect(engine.Run()).To(Succeed())
		Expect(nested).To(MatchError(ErrEngineRunning))
	})

	It("should step one event at a time", func() {
		_, _ = engine.Timeout(1)
		_, _ = engine.Timeout(2)

		Expect(engine.Step()).To(BeTrue())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(1)))
		Expect(engine.Step()).To(BeTrue())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(2)))
		Expect(engine.Step()).To(BeFalse())
		Expect(engine.NumProcessed()).To(Equal(uint64(2)))
	})

	It("should skip cancelled events", func() {
		evt, _ := engine.Timeout(5)
		fired := false
		_ = evt.OnFire(func(*Event) { fired = true })

		Expect(evt.Cancel()).To(Succeed())
		Expect(engine.Run()).To(Succeed())

		Expect(fired).To(BeFalse())
		Expect(evt.Processed()).To(BeFalse())
		Expect(evt.State()).To(Equal(EventCancelled))
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(0)))
	})

	It("should panic if time goes backwards", func() {
		evt := engine.NewEvent("broken")
		engine.queue.Push(evt, -1)

		Expect(func() { _ = engine.Run() }).To(Panic())
	})

	It("should invoke hooks", func() {
		hook := NewMockHook(mockCtrl)
		engine.AcceptHook(hook)

		positions := map[*HookPos]int{}
		hook.EXPECT().Func(gomock.Any()).
			Do(func(ctx HookCtx) { positions[ctx.Pos]++ }).
			AnyTimes()

		engine.Spawn("p", func(p *Process, o Outcome) Yield {
			return p.Hold(1, nil)
		})

		Expect(engine.Run()).To(Succeed())

		// start, timeout and done events.
		Expect(positions[HookPosBeforeEvent]).To(Equal(3))
		Expect(positions[HookPosAfterEvent]).To(Equal(3))
		Expect(positions[HookPosProcessStart]).To(Equal(1))
		Expect(positions[HookPosProcessEnd]).To(Equal(1))
	})

	It("should report processes left waiting", func() {
		handler := NewMockSimulationEndHandler(mockCtrl)
		engine.RegisterSimulationEndHandler(handler)

		never := engine.NewEvent("never")
		p := engine.Spawn("stuck", func(p *Process, o Outcome) Yield {
			return p.Hold(3, func(p *Process, o Outcome) Yield {
				return p.Wait(never, nil)
			})
		})

		handler.EXPECT().Handle(VTimeInSec(3), gomock.Any()).
			Do(func(now VTimeInSec, d Diagnoser) {
				d.Report(Diagnostic{
					Kind:    DiagnosticResourceLeak,
					Subject: "res",
					Message: "1 unit still in use",
					Time:    now,
				})
			})

		Expect(engine.Run()).To(Succeed())
		diagnostics := engine.Finished()

		Expect(diagnostics).To(HaveLen(2))
		Expect(diagnostics[0].Kind).To(Equal(DiagnosticResourceLeak))
		Expect(diagnostics[1].Kind).To(Equal(DiagnosticProcessPending))
		Expect(diagnostics[1].Subject).To(Equal(p.String()))
		Expect(diagnostics[1].Message).To(ContainSubstring(never.String()))
	})

	It("should pause and continue from another goroutine", func() {
		_, _ = engine.Timeout(1)
		_, _ = engine.Timeout(2)

		engine.Pause()
		Expect(engine.IsPaused()).To(BeTrue())

		done := make(chan error)
		go func() { done <- engine.Run() }()

		Consistently(engine.NumProcessed, 50*time.Millisecond).
			Should(BeZero())

		engine.Continue()

		Eventually(done).Should(Receive(BeNil()))
		Expect(engine.NumProcessed()).To(Equal(uint64(2)))
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(2)))
	})

	It("should inspect between deliveries", func() {
		_, _ = engine.Timeout(4)
		Expect(engine.Run()).To(Succeed())

		var now VTimeInSec
		engine.Inspect(func() { now = engine.CurrentTime() })

		Expect(now).To(Equal(VTimeInSec(4)))
	})

	It("should keep independent engines apart", func() {
		other := NewSerialEngine().WithName("other")

		a := engine.NewEvent("a")
		b := other.NewEvent("b")

		Expect(a.ID()).To(Equal(b.ID()))
		Expect(engine.IDGenerator().Generate()).To(Equal("1"))
		Expect(other.IDGenerator().Generate()).To(Equal("1"))
	})

	It("should simulate many processes fast", Serial, Label("measurement"), func() {
		experiment := gmeasure.NewExperiment("Process throughput")
		AddReportEntry(experiment.Name, experiment)

		experiment.Sample(func(idx int) {
			e := NewSerialEngine()
			r := rand.New(rand.NewSource(int64(idx)))

			for i := 0; i < 1000; i++ {
				remaining := 10

				var step Step
				step = func(p *Process, o Outcome) Yield {
					if remaining == 0 {
						return p.Exit(nil)
					}
					remaining--

					return p.Hold(VTimeInSec(r.Float64()), step)
				}

				e.Spawn("worker", step)
			}

			experiment.MeasureDuration("run", func() {
				_ = e.Run()
			})
		}, gmeasure.SamplingConfig{N: 5})
	})
})

var _ = Describe("Event", func() {
	var engine *SerialEngine

	BeforeEach(func() {
		engine = NewSerialEngine()
	})

	It("should reject a second trigger", func() {
		evt := engine.NewEvent("once")

		Expect(evt.Succeed(1)).To(Succeed())

		err := evt.Succeed(2)
		var already *AlreadyTriggeredError
		Expect(errors.As(err, &already)).To(BeTrue())
		Expect(already.Op).To(Equal("succeed"))

		Expect(evt.Fail(errors.New("late"))).
			To(BeAssignableToTypeOf(&AlreadyTriggeredError{}))
		Expect(evt.Cancel()).
			To(BeAssignableToTypeOf(&AlreadyTriggeredError{}))
	})

	It("should reject triggering a timeout", func() {
		evt, err := engine.Timeout(3)
		Expect(err).NotTo(HaveOccurred())

		Expect(evt.Succeed(nil)).
			To(MatchError(ContainSubstring("already scheduled")))
	})

	It("should reject a negative timeout", func() {
		evt, err := engine.Timeout(-1)

		Expect(evt).To(BeNil())
		var negative *NegativeDurationError
		Expect(errors.As(err, &negative)).To(BeTrue())
		Expect(negative.Duration).To(Equal(VTimeInSec(-1)))
	})

	It("should reject registration after processing", func() {
		evt := engine.NewEvent("e")
		_ = evt.Succeed("v")
		Expect(engine.Run()).To(Succeed())

		Expect(evt.Processed()).To(BeTrue())
		Expect(evt.OnFire(func(*Event) {})).
			To(BeAssignableToTypeOf(&AlreadyTriggeredError{}))
	})

	It("should deliver the outcome only when processed", func() {
		evt := engine.NewEvent("e")
		var got any

		_ = evt.OnFire(func(e *Event) { got = e.Value() })
		_ = evt.Succeed("v")

		Expect(got).To(BeNil())
		Expect(evt.State()).To(Equal(EventTriggered))
		Expect(evt.Processed()).To(BeFalse())

		Expect(engine.Run()).To(Succeed())

		Expect(got).To(Equal("v"))
	})

	It("should notify waiters in registration order", func() {
		evt := engine.NewEvent("e")
		var order []int

		for i := 0; i < 5; i++ {
			i := i
			_ = evt.OnFire(func(*Event) { order = append(order, i) })
		}

		_ = evt.Succeed(nil)
		Expect(engine.Run()).To(Succeed())

		Expect(order).To(Equal([]int{0, 1, 2, 3, 4}))
	})
})
