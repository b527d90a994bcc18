// Package trace records what a simulation server did, request by request and
// tick by tick, for offline analysis.
// This package has no dependencies on sim/ or sim/server/; it stores pure data types.
package trace

import "time"

// RequestRecord captures one handled request.
type RequestRecord struct {
	RequestID uint64
	Tick      int64  // simulator tick at which the request was handled
	Op        string
	ErrorKind string // empty on success
	Started   bool   // false when answered without running (shutdown drain)
	Elapsed   time.Duration
}

// TickRecord captures one step of the tick loop.
type TickRecord struct {
	Tick     int64
	Step     time.Duration // time spent in Simulator.Step
	Overrun  bool          // Step consumed the whole tick interval
	Requests int           // requests handled in the remainder of the tick
	StepErr  string        // empty when every object stepped cleanly
}
