package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/procsim/sim"
	"github.com/sarchlab/procsim/sim/resource"
)

var _ = Describe("Monitor", func() {
	var (
		engine  *sim.SerialEngine
		lock    *resource.Resource
		m       *Monitor
		handler http.Handler
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		return rec
	}

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		lock = resource.NewLock(engine, "lock")

		for _, name := range []string{"a", "b"} {
			engine.Spawn(name, func(p *sim.Process, o sim.Outcome) sim.Yield {
				req := lock.Acquire()

				return p.Wait(req.Granted(), func(p *sim.Process, o sim.Outcome) sim.Yield {
					return p.Hold(2, func(p *sim.Process, o sim.Outcome) sim.Yield {
						_ = req.Release()
						return p.Exit(nil)
					})
				})
			})
		}

		m = NewMonitor()
		m.RegisterEngine(engine)
		m.RegisterResource(lock)
		handler = m.Router()
	})

	It("should fall back to a random port for reserved ports", func() {
		Expect(m.WithPortNumber(80).portNumber).To(Equal(0))
		Expect(m.WithPortNumber(8080).portNumber).To(Equal(8080))
	})

	It("should report the time and the run state", func() {
		Expect(engine.RunUntil(1)).To(Succeed())

		rec := get("/api/now")

		Expect(rec.Code).To(Equal(http.StatusOK))
		rsp := nowRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Now).To(Equal(1.0))
		Expect(rsp.State).To(Equal("horizon_reached"))
		Expect(rsp.Events).To(BeNumerically(">", 0))
	})

	It("should list the live processes", func() {
		Expect(engine.RunUntil(1)).To(Succeed())

		rec := get("/api/processes")

		rsp := []processRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(2))
		Expect(rsp[0].Name).To(Equal("a"))
		Expect(rsp[0].State).To(Equal(sim.ProcessWaiting.String()))
	})

	It("should list the resources", func() {
		Expect(engine.RunUntil(1)).To(Succeed())

		rec := get("/api/resources")

		rsp := []resourceRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(ConsistOf(resourceRsp{
			Name:        "lock",
			Capacity:    1,
			InUse:       1,
			QueueLength: 1,
			Grants:      1,
			Utilization: 1,
		}))
	})

	It("should serialize a resource", func() {
		Expect(get("/api/resource/lock").Code).To(Equal(http.StatusOK))
		Expect(get("/api/resource/none").Code).To(Equal(http.StatusNotFound))
	})

	It("should reject a malformed field request", func() {
		rec := get("/api/field/" + url.PathEscape("{bad"))

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should pause and continue the engine", func() {
		Expect(get("/api/pause").Code).To(Equal(http.StatusOK))
		Expect(engine.IsPaused()).To(BeTrue())

		Expect(get("/api/continue").Code).To(Equal(http.StatusOK))
		Expect(engine.IsPaused()).To(BeFalse())
	})

	It("should run the engine in the background", func() {
		rec := get("/api/run")

		Expect(rec.Code).To(Equal(http.StatusAccepted))
		Eventually(engine.State).Should(Equal(sim.RunCompleted))
		Expect(m.RunError()).NotTo(HaveOccurred())
		Expect(engine.CurrentTime()).To(Equal(sim.VTimeInSec(4)))
	})

	It("should show progress bars until completed", func() {
		bar := m.CreateProgressBar("customers", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		rsp := []progressSnapshot{}
		Expect(json.Unmarshal(get("/api/progress").Body.Bytes(), &rsp)).
			To(Succeed())
		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].ID).NotTo(BeEmpty())
		Expect(rsp[0].Finished).To(Equal(uint64(2)))
		Expect(rsp[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)
		Expect(get("/api/progress").Body.String()).To(Equal("[]"))
	})

	It("should serve the web page", func() {
		rec := get("/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should serve and stop", func() {
		address, err := m.WithPortNumber(0).StartServer()
		Expect(err).NotTo(HaveOccurred())

		rsp, err := http.Get(address + "/api/now")
		Expect(err).NotTo(HaveOccurred())
		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
		Expect(rsp.Body.Close()).To(Succeed())

		Expect(m.StopServer()).To(Succeed())
	})
})
