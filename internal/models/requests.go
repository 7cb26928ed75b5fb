package models

import "time"

// AnalysisRequest triggers one correlation run.
type AnalysisRequest struct {
	WindowMinutes int
	MaxTraces     int
	UserID        string
}

// AnalysisReport is the outcome of a correlation run.
type AnalysisReport struct {
	RunID     string     `json:"run_id"`
	UserID    string     `json:"user_id"`
	ProjectID string     `json:"project_id,omitempty"`
	Traces    int        `json:"traces"`
	Failed    int        `json:"failed"`
	Incidents []Incident `json:"results"`
	Started   time.Time  `json:"started"`
	Duration  float64    `json:"duration_seconds"`
}

// IncidentFilter narrows incident listings. Empty fields and "ALL" match
// everything.
type IncidentFilter struct {
	Status   Status
	Category string
	GroupID  string
	Page     int
	Limit    int
}

// GroupFilter narrows group listings.
type GroupFilter struct {
	Status   Status
	Category string
	Page     int
	Limit    int
}
