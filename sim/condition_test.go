package sim

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Composite events", func() {
	var engine *SerialEngine

	BeforeEach(func() {
		engine = NewSerialEngine()
	})

	Context("AllOf", func() {
		It("should trigger once with values in argument order", func() {
			a := engine.NewEvent("a")
			b := engine.NewEvent("b")

			engine.Spawn("producer", func(p *Process, o Outcome) Yield {
				return p.Hold(1, func(p *Process, o Outcome) Yield {
					_ = b.Succeed("b")
					return p.Hold(1, func(p *Process, o Outcome) Yield {
						_ = a.Succeed("a")
						return p.Exit(nil)
					})
				})
			})

			all := engine.AllOf(a, b)
			fired := 0
			_ = all.OnFire(func(*Event) { fired++ })

			var got any
			var at VTimeInSec
			engine.Spawn("consumer", func(p *Process, o Outcome) Yield {
				return p.Wait(all, func(p *Process, o Outcome) Yield {
					got = o.Value
					at = p.Now()
					return p.Exit(nil)
				})
			})

			Expect(engine.Run()).To(Succeed())

			Expect(fired).To(Equal(1))
			Expect(got).To(Equal([]any{"a", "b"}))
			Expect(at).To(Equal(VTimeInSec(2)))
		})

		It("should fail with the first failure", func() {
			boom := errors.New("boom")
			a := engine.NewEvent("a")
			b, _ := engine.Timeout(5)
			_ = a.Fail(boom)

			all := engine.AllOf(a, b)

			Expect(engine.RunUntil(1)).To(Succeed())

			Expect(all.Processed()).To(BeTrue())
			Expect(all.Err()).To(MatchError(boom))
		})

		It("should trigger at once without constituents", func() {
			all := engine.AllOf()

			Expect(all.State()).To(Equal(EventTriggered))
			Expect(engine.Run()).To(Succeed())
			Expect(all.Value()).To(Equal([]any{}))
		})

		It("should count constituents already processed", func() {
			a := engine.NewEvent("a")
			_ = a.Succeed(1)
			Expect(engine.Run()).To(Succeed())

			b, _ := engine.Timeout(2)
			all := engine.AllOf(a, b)

			Expect(engine.Run()).To(Succeed())

			Expect(all.Value()).To(Equal([]any{1, nil}))
			Expect(engine.CurrentTime()).To(Equal(VTimeInSec(2)))
		})
	})

	Context("AnyOf", func() {
		It("should win with the first and still deliver the others", func() {
			t1, _ := engine.Timeout(1)
			t2, _ := engine.Timeout(2)

			var winner any
			var winAt VTimeInSec
			engine.Spawn("racer", func(p *Process, o Outcome) Yield {
				return p.WaitAny(func(p *Process, o Outcome) Yield {
					winner = o.Value
					winAt = p.Now()
					return p.Exit(nil)
				}, t1, t2)
			})

			var lateAt VTimeInSec
			engine.Spawn("patient", func(p *Process, o Outcome) Yield {
				return p.Wait(t2, func(p *Process, o Outcome) Yield {
					lateAt = p.Now()
					return p.Exit(nil)
				})
			})

			Expect(engine.Run()).To(Succeed())

			Expect(winner).To(BeIdenticalTo(t1))
			Expect(winAt).To(Equal(VTimeInSec(1)))
			Expect(lateAt).To(Equal(VTimeInSec(2)))
		})

		It("should prefer the earlier created event at the same time", func() {
			t1, _ := engine.Timeout(3)
			t2, _ := engine.Timeout(3)

			anyEvt := engine.AnyOf(t2, t1)

			Expect(engine.Run()).To(Succeed())

			Expect(anyEvt.Value()).To(BeIdenticalTo(t1))
		})

		It("should fail if the winner fails", func() {
			boom := errors.New("boom")
			a := engine.NewEvent("a")
			b, _ := engine.Timeout(1)
			anyEvt := engine.AnyOf(a, b)
			_ = a.Fail(boom)

			Expect(engine.Run()).To(Succeed())

			Expect(anyEvt.Err()).To(MatchError(boom))
		})

		It("should ignore a failure after the winner", func() {
			a, _ := engine.Timeout(1)
			b := engine.NewEvent("b")
			anyEvt := engine.AnyOf(a, b)

			engine.Spawn("failer", func(p *Process, o Outcome) Yield {
				return p.Hold(2, func(p *Process, o Outcome) Yield {
					_ = b.Fail(errors.New("late"))
					return p.Exit(nil)
				})
			})

			Expect(engine.Run()).To(Succeed())

			Expect(anyEvt.Err()).NotTo(HaveOccurred())
			Expect(anyEvt.Value()).To(BeIdenticalTo(a))
		})

		It("should win at once with a processed constituent", func() {
			a := engine.NewEvent("a")
			_ = a.Succeed(nil)
			Expect(engine.Run()).To(Succeed())

			b, _ := engine.Timeout(9)
			anyEvt := engine.AnyOf(b, a)

			Expect(anyEvt.State()).To(Equal(EventTriggered))
			Expect(engine.RunUntil(0)).To(Succeed())
			Expect(anyEvt.Value()).To(BeIdenticalTo(a))
		})
	})
})

var _ = Describe("Signal", func() {
	It("should resume every passivated process on activation", func() {
		engine := NewSerialEngine()
		signal := NewSignal(engine, "green")

		var record []VTimeInSec
		var values []any

		for i := 0; i < 2; i++ {
			engine.Spawn("car", func(p *Process, o Outcome) Yield {
				return signal.Passivate(p, func(p *Process, o Outcome) Yield {
					record = append(record, p.Now())
					values = append(values, o.Value)
					return p.Exit(nil)
				})
			})
		}

		engine.Spawn("again", func(p *Process, o Outcome) Yield {
			return p.Hold(2.5, func(p *Process, o Outcome) Yield {
				return signal.Passivate(p, func(p *Process, o Outcome) Yield {
					record = append(record, p.Now())
					return p.Exit(nil)
				})
			})
		})

		engine.Spawn("light", func(p *Process, o Outcome) Yield {
			return p.Hold(2, func(p *Process, o Outcome) Yield {
				signal.Activate("go")
				return p.Hold(1, func(p *Process, o Outcome) Yield {
					signal.Activate("go again")
					return p.Exit(nil)
				})
			})
		})

		Expect(engine.Run()).To(Succeed())

		Expect(record).To(Equal([]VTimeInSec{2, 2, 3}))
		Expect(values).To(Equal([]any{"go", "go"}))
		Expect(signal.Activations()).To(Equal(2))
	})
})
