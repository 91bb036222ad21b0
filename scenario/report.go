package scenario

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sarchlab/procsim/datarecording"
	"github.com/sarchlab/procsim/sim"
)

// Tables written by Report.Record.
const (
	RunTable        = "run"
	ProcessTable    = "processes"
	ResourceTable   = "resources"
	DiagnosticTable = "diagnostics"
	MetricTable     = "metrics"
)

const unfinishedResult = "-"

// RunRow describes a run.
type RunRow struct {
	Scenario string
	Seed     uint64
	Until    float64
	EndTime  float64
	Events   uint64
	State    string

	AverageProcessTime float64
}

// ProcessRow describes the outcome of a process.
type ProcessRow struct {
	ID        uint64
	Name      string
	State     string
	CreatedAt float64
	EndedAt   float64
	Result    string
}

// ResourceRow summarizes how a resource was used.
type ResourceRow struct {
	Name               string
	Capacity           int
	Grants             uint64
	Releases           uint64
	Preemptions        uint64
	Withdrawals        uint64
	InUse              int
	QueueLength        int
	MaxQueueLength     int
	Utilization        float64
	AverageQueueLength float64
	AverageWait        float64
	OccupiedTime       float64
}

// DiagnosticRow is a diagnostic reported at teardown.
type DiagnosticRow struct {
	Kind    string
	Subject string
	Message string
	Time    float64
}

// A Report is the result of a run.
type Report struct {
	Run         RunRow
	Processes   []ProcessRow
	Resources   []ResourceRow
	Diagnostics []DiagnosticRow
	Metrics     []Metric
}

func newReport(
	name string,
	cfg *Config,
	until float64,
	env *Env,
	pr *probes,
) *Report {
	engine := env.Engine
	now := engine.CurrentTime()

	r := &Report{
		Run: RunRow{
			Scenario:           name,
			Seed:               cfg.Seed,
			Until:              until,
			EndTime:            float64(now),
			Events:             engine.NumProcessed(),
			State:              engine.State().String(),
			AverageProcessTime: float64(pr.processTime.AverageTime()),
		},
		Metrics: env.Metrics(),
	}

	for _, p := range env.processes {
		r.Processes = append(r.Processes, processRow(p))
	}

	for _, res := range env.resources {
		busy := pr.occupied[res.Name()]
		busy.TerminateAllTasks(now)

		s := res.Stats()
		r.Resources = append(r.Resources, ResourceRow{
			Name:               s.Name,
			Capacity:           s.Capacity,
			Grants:             s.Grants,
			Releases:           s.Releases,
			Preemptions:        s.Preemptions,
			Withdrawals:        s.Withdrawals,
			InUse:              s.InUse,
			QueueLength:        s.QueueLength,
			MaxQueueLength:     s.MaxQueueLength,
			Utilization:        s.Utilization(),
			AverageQueueLength: s.AverageQueueLength(),
			AverageWait:        float64(s.AverageWait()),
			OccupiedTime:       float64(busy.BusyTime()),
		})
	}

	for _, d := range engine.Finished() {
		r.Diagnostics = append(r.Diagnostics, DiagnosticRow{
			Kind:    string(d.Kind),
			Subject: d.Subject,
			Message: d.Message,
			Time:    float64(d.Time),
		})
	}

	if pr.db != nil {
		pr.db.Terminate()
	}

	return r
}

func processRow(p *sim.Process) ProcessRow {
	row := ProcessRow{
		ID:        uint64(p.ID()),
		Name:      p.Name(),
		State:     p.State().String(),
		CreatedAt: float64(p.CreatedAt()),
		EndedAt:   float64(p.EndedAt()),
		Result:    unfinishedResult,
	}

	switch p.State() {
	case sim.ProcessFinished:
		if p.Value() != nil {
			row.Result = fmt.Sprint(p.Value())
		} else {
			row.Result = ""
		}
	case sim.ProcessFailed:
		row.Result = p.Err().Error()
	}

	return row
}

// Record writes the report into the recorder and flushes it.
func (r *Report) Record(recorder datarecording.DataRecorder) {
	recorder.CreateTable(RunTable, RunRow{})
	recorder.CreateTable(ProcessTable, ProcessRow{})
	recorder.CreateTable(ResourceTable, ResourceRow{})
	recorder.CreateTable(DiagnosticTable, DiagnosticRow{})
	recorder.CreateTable(MetricTable, Metric{})

	recorder.InsertData(RunTable, r.Run)

	for _, row := range r.Processes {
		recorder.InsertData(ProcessTable, row)
	}

	for _, row := range r.Resources {
		recorder.InsertData(ResourceTable, row)
	}

	for _, row := range r.Diagnostics {
		recorder.InsertData(DiagnosticTable, row)
	}

	for _, row := range r.Metrics {
		recorder.InsertData(MetricTable, row)
	}

	recorder.Flush()
}

// Print writes the report as aligned tables.
func (r *Report) Print(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "scenario %s, seed %d: %s at %.4f after %d events\n\n",
		r.Run.Scenario, r.Run.Seed, r.Run.State, r.Run.EndTime, r.Run.Events)

	fmt.Fprintln(w, "RESOURCE\tCAPACITY\tGRANTS\tPREEMPTIONS\tUTILIZATION\t"+
		"AVG QUEUE\tAVG WAIT")

	for _, row := range r.Resources {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\n",
			row.Name, row.Capacity, row.Grants, row.Preemptions,
			row.Utilization, row.AverageQueueLength, row.AverageWait)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "METRIC\tVALUE")

	for _, m := range r.Metrics {
		fmt.Fprintf(w, "%s\t%.4f\n", m.Name, m.Value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "PROCESS\tSTATE\tENDED\tRESULT")

	for _, row := range r.Processes {
		ended := "-"
		if row.State == sim.ProcessFinished.String() ||
			row.State == sim.ProcessFailed.String() {
			ended = fmt.Sprintf("%.4f", row.EndedAt)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.Name, row.State, ended, row.Result)
	}

	if len(r.Diagnostics) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "DIAGNOSTIC\tSUBJECT\tMESSAGE")

		for _, d := range r.Diagnostics {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Kind, d.Subject, d.Message)
		}
	}

	return w.Flush()
}
