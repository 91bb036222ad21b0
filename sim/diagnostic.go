package sim

import "fmt"

// DiagnosticKind classifies a diagnostic.
type DiagnosticKind string

// Kinds of diagnostics reported at teardown.
const (
	// DiagnosticResourceLeak reports a resource that still has holders or
	// queued requests when the simulation ends.
	DiagnosticResourceLeak DiagnosticKind = "resource_leak"

	// DiagnosticProcessPending reports a process that is still suspended
	// when the simulation ends.
	DiagnosticProcessPending DiagnosticKind = "process_pending"
)

// A Diagnostic is a non-fatal finding about the state of a simulation when it
// ends.
type Diagnostic struct {
	Kind    DiagnosticKind
	Subject string
	Message string
	Time    VTimeInSec
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s: %s (t=%.6f)",
		d.Kind, d.Subject, d.Message, float64(d.Time))
}

type diagnosticCollector struct {
	diagnostics []Diagnostic
}

func (c *diagnosticCollector) Report(d Diagnostic) {
	c.diagnostics = append(c.diagnostics, d)
}
