// Package monitoring turns a running simulation into a web server that can
// pause, continue, stop and inspect it.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/sarchlab/procsim/monitoring/web"
	"github.com/sarchlab/procsim/sim"
	"github.com/sarchlab/procsim/sim/resource"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"
)

// Engine is the engine view the monitor needs.
type Engine interface {
	sim.Engine

	State() sim.RunState
	NumProcessed() uint64
	Processes() []*sim.Process
}

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
type Monitor struct {
	engine     Engine
	resources  []*resource.Resource
	portNumber int
	log        *logrus.Entry

	runErrLock sync.Mutex
	runErr     error

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	listener net.Listener
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		log: logrus.WithField("component", "monitor"),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.log.Warnf("port number %d is not allowed for the monitor, "+
			"using a random port instead", portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger of the monitor.
func (m *Monitor) WithLogger(entry *logrus.Entry) *Monitor {
	m.log = entry.WithField("component", "monitor")
	return m
}

// RegisterEngine registers the engine that is used in the simulation.
func (m *Monitor) RegisterEngine(e Engine) {
	m.engine = e
}

// RegisterResource registers a resource to be monitored.
func (m *Monitor) RegisterResource(r *resource.Resource) {
	m.resources = append(m.resources, r)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.NewGlobalIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the API and the web page.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/stop", m.stopEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/run", m.run)
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/resources", m.listResources)
	r.HandleFunc("/api/resource/{name}", m.resourceDetail)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/host", m.hostUsage)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", m.portNumber))
	if err != nil {
		return "", fmt.Errorf("starting monitor: %w", err)
	}

	m.listener = listener

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.log.WithField("url", url).Info("monitoring simulation")

	handler := m.Router()

	go func() {
		err := http.Serve(listener, handler)
		if err != nil && !isClosedErr(err) {
			m.log.WithError(err).Error("monitor server stopped")
		}
	}()

	return url, nil
}

// StopServer closes the listener of the server.
func (m *Monitor) StopServer() error {
	if m.listener == nil {
		return nil
	}

	return m.listener.Close()
}

// OpenInBrowser opens the web page of a started monitor.
func (m *Monitor) OpenInBrowser(url string) {
	if err := browser.OpenURL(url); err != nil {
		m.log.WithError(err).Warn("cannot open browser")
	}
}

// RunError returns the error of the last run started through the API.
func (m *Monitor) RunError() error {
	m.runErrLock.Lock()
	defer m.runErrLock.Unlock()

	return m.runErr
}

func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Continue()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) stopEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Stop()
	w.WriteHeader(http.StatusOK)
}

type nowRsp struct {
	Now    float64 `json:"now"`
	State  string  `json:"state"`
	Events uint64  `json:"events"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, nowRsp{
		Now:    float64(m.engine.CurrentTime()),
		State:  m.engine.State().String(),
		Events: m.engine.NumProcessed(),
	})
}

func (m *Monitor) run(w http.ResponseWriter, _ *http.Request) {
	if m.engine.State() == sim.RunRunning {
		w.WriteHeader(http.StatusConflict)
		return
	}

	go func() {
		err := m.engine.Run()

		m.runErrLock.Lock()
		m.runErr = err
		m.runErrLock.Unlock()

		if err != nil {
			m.log.WithError(err).Error("run started by monitor failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

type processRsp struct {
	ID        uint64  `json:"id"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	CreatedAt float64 `json:"created_at"`
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	rsp := []processRsp{}

	m.engine.Inspect(func() {
		for _, p := range m.engine.Processes() {
			rsp = append(rsp, processRsp{
				ID:        uint64(p.ID()),
				Name:      p.Name(),
				State:     p.State().String(),
				CreatedAt: float64(p.CreatedAt()),
			})
		}
	})

	m.writeJSON(w, rsp)
}

type resourceRsp struct {
	Name        string  `json:"name"`
	Capacity    int     `json:"capacity"`
	InUse       int     `json:"in_use"`
	QueueLength int     `json:"queue_length"`
	Grants      uint64  `json:"grants"`
	Preemptions uint64  `json:"preemptions"`
	Utilization float64 `json:"utilization"`
	AverageWait float64 `json:"average_wait"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	rsp := []resourceRsp{}

	m.engine.Inspect(func() {
		for _, r := range m.resources {
			s := r.Stats()
			rsp = append(rsp, resourceRsp{
				Name:        s.Name,
				Capacity:    s.Capacity,
				InUse:       s.InUse,
				QueueLength: s.QueueLength,
				Grants:      s.Grants,
				Preemptions: s.Preemptions,
				Utilization: s.Utilization(),
				AverageWait: float64(s.AverageWait()),
			})
		}
	})

	m.writeJSON(w, rsp)
}

func (m *Monitor) resourceDetail(w http.ResponseWriter, r *http.Request) {
	res := m.findResourceOr404(w, mux.Vars(r)["name"])
	if res == nil {
		return
	}

	var err error

	m.engine.Inspect(func() {
		stats := res.Stats()

		serializer := goseth.NewSerializer()
		serializer.SetRoot(&stats)
		serializer.SetMaxDepth(1)
		err = serializer.Serialize(w)
	})

	m.dieOnErr(err)
}

type fieldReq struct {
	Resource  string `json:"resource,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	res := m.findResourceOr404(w, req.Resource)
	if res == nil {
		return
	}

	m.engine.Inspect(func() {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(res)
		serializer.SetMaxDepth(1)

		err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
		if err != nil {
			return
		}

		err = serializer.Serialize(w)
	})

	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
	}
}

func (m *Monitor) findResourceOr404(
	w http.ResponseWriter,
	name string,
) *resource.Resource {
	for _, r := range m.resources {
		if r.Name() == name {
			return r
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Resource not found"))
	m.dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	snapshots := make([]progressSnapshot, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		snapshots = append(snapshots, b.snapshot())
	}

	m.writeJSON(w, snapshots)
}

type hostRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) hostUsage(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	m.dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	m.dieOnErr(err)

	memoryInfo, err := proc.MemoryInfo()
	m.dieOnErr(err)

	m.writeJSON(w, hostRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	m.dieOnErr(err)

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	m.dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	m.dieOnErr(err)
}

func (m *Monitor) dieOnErr(err error) {
	if err != nil {
		m.log.Panic(err)
	}
}
