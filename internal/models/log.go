package models

import "time"

// LogEntry is a single parsed log line attributed to a trace.
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Severity   string    `json:"severity"`
	Service    string    `json:"service"`
	Message    string    `json:"message"`
	TraceID    string    `json:"trace_id"`
	RootCause  string    `json:"root_cause,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// TraceBatch is the ordered set of entries sharing one trace id.
type TraceBatch []LogEntry

// Service returns the service of the first entry, or "unknown".
func (b TraceBatch) Service() string {
	if len(b) == 0 || b[0].Service == "" {
		return "unknown"
	}
	return b[0].Service
}

// Head returns at most the first n entries.
func (b TraceBatch) Head(n int) []LogEntry {
	if n < 0 || len(b) <= n {
		return append([]LogEntry(nil), b...)
	}
	return append([]LogEntry(nil), b[:n]...)
}

// TraceSet maps trace ids to their batches, preserving the order in which
// the log source returned them.
type TraceSet struct {
	Order   []string
	Batches map[string]TraceBatch
}

// NewTraceSet returns an empty TraceSet.
func NewTraceSet() *TraceSet {
	return &TraceSet{Batches: make(map[string]TraceBatch)}
}

// Add appends an entry to its trace, registering the trace on first sight.
func (s *TraceSet) Add(entry LogEntry) {
	if _, ok := s.Batches[entry.TraceID]; !ok {
		s.Order = append(s.Order, entry.TraceID)
	}
	s.Batches[entry.TraceID] = append(s.Batches[entry.TraceID], entry)
}

// Len reports the number of traces.
func (s *TraceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Order)
}
