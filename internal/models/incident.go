package models

import "time"

// Priority ranks incident urgency.
type Priority string

const (
	PriorityP0            Priority = "P0"
	PriorityP1            Priority = "P1"
	PriorityP2            Priority = "P2"
	PriorityAutoEscalated Priority = "P0 (Auto-Escalated)"
)

// CriticalPriorities are the priorities that count as critical issues.
var CriticalPriorities = []Priority{PriorityP0, PriorityP1, PriorityAutoEscalated}

// IsCritical reports whether the priority counts as a critical issue.
func (p Priority) IsCritical() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityAutoEscalated:
		return true
	default:
		return false
	}
}

// IncidentCounts aggregates the incidents collection for the dashboard.
type IncidentCounts struct {
	// Since counts incidents at or after the requested cutoff.
	Since        int
	Open         int
	OpenCritical int
}

// Status captures the lifecycle state of an incident.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusResolved      Status = "RESOLVED"
	StatusInvestigating Status = "INVESTIGATING"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusResolved, StatusInvestigating:
		return true
	default:
		return false
	}
}

// AnalysisResult is the structured output of the enrichment function.
// Confidence is in [0,1] as produced and in [0,100] once attached to an
// Incident.
type AnalysisResult struct {
	Cause              string   `json:"cause"`
	Category           string   `json:"category"`
	Confidence         float64  `json:"confidence"`
	Action             string   `json:"action"`
	SecurityAlert      bool     `json:"security_alert"`
	RedactedSummary    string   `json:"redacted_summary"`
	Priority           Priority `json:"priority"`
	CorrelationInsight string   `json:"correlation_insight"`
}

// Incident is one persisted analysis outcome for a trace.
type Incident struct {
	ID              string         `json:"id"`
	TraceID         string         `json:"trace_id"`
	ServiceName     string         `json:"service_name"`
	Timestamp       time.Time      `json:"timestamp"`
	OccurrenceCount int            `json:"occurrence_count"`
	Analysis        AnalysisResult `json:"analysis"`
	Logs            []LogEntry     `json:"logs"`
	Status          Status         `json:"status"`
}

// AlertSummary is the payload dispatched to notification channels.
type AlertSummary struct {
	TraceID      string   `json:"trace_id"`
	Category     string   `json:"category"`
	Priority     Priority `json:"priority"`
	RedactedText string   `json:"redacted_text"`
}

// Summary builds the notification payload for the incident.
func (i Incident) Summary() AlertSummary {
	return AlertSummary{
		TraceID:      i.TraceID,
		Category:     i.Analysis.Category,
		Priority:     i.Analysis.Priority,
		RedactedText: i.Analysis.RedactedSummary,
	}
}

// Group aggregates every incident that shares a trace id. It is computed on
// read and never stored.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Severity  Priority  `json:"severity"`
	Category  string    `json:"category"`
	Status    Status    `json:"status"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Services  []string  `json:"services"`
}

// GroupDetail is the expanded view of a single group.
type GroupDetail struct {
	Group
	ServiceName string         `json:"service_name"`
	RootCause   RootCause      `json:"root_cause"`
	Analysis    AnalysisResult `json:"analysis"`
	Logs        []LogEntry     `json:"logs"`
	Incidents   int            `json:"incidents"`
}

// RootCause is the evidence block of a group detail.
type RootCause struct {
	Cause      string   `json:"cause"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}
