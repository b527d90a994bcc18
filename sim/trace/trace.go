package trace

import "sync"

// TraceLevel controls the verbosity of server tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelRequests captures every handled request.
	TraceLevelRequests TraceLevel = "requests"
	// TraceLevelAll captures every request and every tick.
	TraceLevelAll TraceLevel = "all"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelRequests: true,
	TraceLevelAll:      true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects records while a server runs. The worker writes;
// any goroutine may take a Snapshot.
type SimulationTrace struct {
	Config TraceConfig

	mu       sync.Mutex
	requests []RequestRecord
	ticks    []TickRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:   config,
		requests: make([]RequestRecord, 0),
		ticks:    make([]TickRecord, 0),
	}
}

// RecordRequest appends a request record. No-op at TraceLevelNone.
func (st *SimulationTrace) RecordRequest(record RequestRecord) {
	if st == nil || st.Config.Level == TraceLevelNone || st.Config.Level == "" {
		return
	}
	st.mu.Lock()
	st.requests = append(st.requests, record)
	st.mu.Unlock()
}

// RecordTick appends a tick record. Only recorded at TraceLevelAll.
func (st *SimulationTrace) RecordTick(record TickRecord) {
	if st == nil || st.Config.Level != TraceLevelAll {
		return
	}
	st.mu.Lock()
	st.ticks = append(st.ticks, record)
	st.mu.Unlock()
}

// Requests returns a copy of the request records, in handling order.
func (st *SimulationTrace) Requests() []RequestRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]RequestRecord(nil), st.requests...)
}

// Ticks returns a copy of the tick records.
func (st *SimulationTrace) Ticks() []TickRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]TickRecord(nil), st.ticks...)
}
