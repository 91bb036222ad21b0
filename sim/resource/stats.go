package resource

import "github.com/sarchlab/procsim/sim"

// Stats summarizes how a resource was used.
type Stats struct {
	Name     string
	Capacity int

	Grants      uint64
	Releases    uint64
	Preemptions uint64
	Withdrawals uint64

	InUse          int
	QueueLength    int
	MaxQueueLength int

	// TotalWait is the sum of the time requests waited before their grants.
	TotalWait sim.VTimeInSec

	// BusyTime is the sum of the time units were held.
	BusyTime sim.VTimeInSec

	// UsageArea and QueueArea integrate the units in use and the queue
	// length over time.
	UsageArea sim.VTimeInSec
	QueueArea sim.VTimeInSec

	// Since is when the resource was created and Until is when the
	// statistics were taken. Averages are over [Since, Until].
	Since sim.VTimeInSec
	Until sim.VTimeInSec
}

func (s Stats) span() float64 {
	return float64(s.Until - s.Since)
}

// Utilization returns the average fraction of units in use.
func (s Stats) Utilization() float64 {
	if s.span() <= 0 {
		return 0
	}

	return float64(s.UsageArea) / (s.span() * float64(s.Capacity))
}

// AverageQueueLength returns the time-averaged queue length.
func (s Stats) AverageQueueLength() float64 {
	if s.span() <= 0 {
		return 0
	}

	return float64(s.QueueArea) / s.span()
}

// AverageWait returns the average wait of granted requests.
func (s Stats) AverageWait() sim.VTimeInSec {
	if s.Grants == 0 {
		return 0
	}

	return s.TotalWait / sim.VTimeInSec(s.Grants)
}
