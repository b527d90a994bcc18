package trace

import "time"

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalRequests  int
	FailedRequests int
	DrainedCount   int            // answered during shutdown without running
	OpDistribution map[string]int // op → count of requests handled
	ErrorKinds     map[string]int // error kind → count
	InOrder        bool           // request ids were handled strictly increasing

	Ticks    int
	Overruns int
	MeanStep time.Duration
	MaxStep  time.Duration
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		OpDistribution: make(map[string]int),
		ErrorKinds:     make(map[string]int),
		InOrder:        true,
	}
	if st == nil {
		return summary
	}

	requests := st.Requests()
	summary.TotalRequests = len(requests)
	for i, r := range requests {
		summary.OpDistribution[r.Op]++
		if r.ErrorKind != "" {
			summary.FailedRequests++
			summary.ErrorKinds[r.ErrorKind]++
		}
		if !r.Started {
			summary.DrainedCount++
		}
		if i > 0 && r.RequestID <= requests[i-1].RequestID {
			summary.InOrder = false
		}
	}

	ticks := st.Ticks()
	summary.Ticks = len(ticks)
	if len(ticks) > 0 {
		var total time.Duration
		for _, t := range ticks {
			total += t.Step
			if t.Step > summary.MaxStep {
				summary.MaxStep = t.Step
			}
			if t.Overrun {
				summary.Overruns++
			}
		}
		summary.MeanStep = total / time.Duration(len(ticks))
	}

	return summary
}
