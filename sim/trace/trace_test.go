package trace

import (
	"testing"
	"time"
)

func TestSimulationTrace_RecordRequest_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for requests
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelRequests})

	// WHEN a request record is recorded
	st.RecordRequest(RequestRecord{
		RequestID: 7,
		Tick:      3,
		Op:        "GET",
		Started:   true,
	})

	// THEN the trace contains one request record with correct data
	requests := st.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if requests[0].RequestID != 7 {
		t.Errorf("expected request ID 7, got %d", requests[0].RequestID)
	}
	if requests[0].Op != "GET" {
		t.Errorf("expected op GET, got %s", requests[0].Op)
	}
}

func TestSimulationTrace_LevelGatesRecording(t *testing.T) {
	tests := []struct {
		level        TraceLevel
		wantRequests int
		wantTicks    int
	}{
		{TraceLevelNone, 0, 0},
		{"", 0, 0},
		{TraceLevelRequests, 1, 0},
		{TraceLevelAll, 1, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			st := NewSimulationTrace(TraceConfig{Level: tt.level})
			st.RecordRequest(RequestRecord{RequestID: 1, Op: "GET"})
			st.RecordTick(TickRecord{Tick: 1})

			if got := len(st.Requests()); got != tt.wantRequests {
				t.Errorf("requests: expected %d, got %d", tt.wantRequests, got)
			}
			if got := len(st.Ticks()); got != tt.wantTicks {
				t.Errorf("ticks: expected %d, got %d", tt.wantTicks, got)
			}
		})
	}
}

func TestSimulationTrace_NilIsSafe(t *testing.T) {
	var st *SimulationTrace
	st.RecordRequest(RequestRecord{RequestID: 1})
	st.RecordTick(TickRecord{Tick: 1})
}

func TestSimulationTrace_RequestsReturnsCopy(t *testing.T) {
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelRequests})
	st.RecordRequest(RequestRecord{RequestID: 1, Op: "GET"})

	got := st.Requests()
	got[0].Op = "SET"

	if st.Requests()[0].Op != "GET" {
		t.Error("mutating the returned slice must not change the trace")
	}
}

func TestIsValidTraceLevel_ValidLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"none", true},
		{"requests", true},
		{"all", true},
		{"", true},
		{"decisions", false},
		{"verbose", false},
	}
	for _, tt := range tests {
		if got := IsValidTraceLevel(tt.level); got != tt.valid {
			t.Errorf("IsValidTraceLevel(%q) = %v, want %v", tt.level, got, tt.valid)
		}
	}
}

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelAll})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero and ordering holds vacuously
	if summary.TotalRequests != 0 || summary.FailedRequests != 0 || summary.DrainedCount != 0 {
		t.Error("expected zero request counts")
	}
	if summary.Ticks != 0 || summary.Overruns != 0 || summary.MeanStep != 0 {
		t.Error("expected zero tick statistics")
	}
	if !summary.InOrder {
		t.Error("expected InOrder for an empty trace")
	}
	if Summarize(nil).TotalRequests != 0 {
		t.Error("expected nil trace to summarize to zero")
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with successes, failures and drained requests
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelAll})
	st.RecordRequest(RequestRecord{RequestID: 1, Op: "GET", Started: true})
	st.RecordRequest(RequestRecord{RequestID: 2, Op: "SET", Started: true, ErrorKind: "ReadOnlyViolation"})
	st.RecordRequest(RequestRecord{RequestID: 3, Op: "GET", ErrorKind: "ServerShuttingDown"})
	st.RecordRequest(RequestRecord{RequestID: 4, Op: "STOP", Started: true})
	st.RecordTick(TickRecord{Tick: 1, Step: 2 * time.Millisecond})
	st.RecordTick(TickRecord{Tick: 2, Step: 4 * time.Millisecond, Overrun: true})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	if summary.TotalRequests != 4 {
		t.Errorf("expected 4 requests, got %d", summary.TotalRequests)
	}
	if summary.FailedRequests != 2 {
		t.Errorf("expected 2 failed, got %d", summary.FailedRequests)
	}
	if summary.DrainedCount != 1 {
		t.Errorf("expected 1 drained, got %d", summary.DrainedCount)
	}
	if summary.OpDistribution["GET"] != 2 {
		t.Errorf("expected 2 GETs, got %d", summary.OpDistribution["GET"])
	}
	if summary.ErrorKinds["ServerShuttingDown"] != 1 {
		t.Errorf("expected 1 shutdown error, got %d", summary.ErrorKinds["ServerShuttingDown"])
	}
	if !summary.InOrder {
		t.Error("expected InOrder")
	}

	// THEN tick statistics match
	if summary.Overruns != 1 {
		t.Errorf("expected 1 overrun, got %d", summary.Overruns)
	}
	if summary.MeanStep != 3*time.Millisecond {
		t.Errorf("expected mean step 3ms, got %v", summary.MeanStep)
	}
	if summary.MaxStep != 4*time.Millisecond {
		t.Errorf("expected max step 4ms, got %v", summary.MaxStep)
	}
}

func TestSummarize_OutOfOrderDetected(t *testing.T) {
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelRequests})
	st.RecordRequest(RequestRecord{RequestID: 2, Op: "GET"})
	st.RecordRequest(RequestRecord{RequestID: 1, Op: "GET"})

	if Summarize(st).InOrder {
		t.Error("expected out-of-order handling to be detected")
	}
}
