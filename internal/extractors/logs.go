// Package extractors derives summary signals from trace log batches.
package extractors

import (
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// Severities tracked in batch statistics, in reporting order.
var Severities = []string{"CRITICAL", "ERROR", "WARNING", "INFO"}

// BatchStats summarises one trace batch.
type BatchStats struct {
	LogCount       int            `json:"log_count"`
	SeverityCounts map[string]int `json:"severity_counts"`
	HasErrors      bool           `json:"has_errors"`
	FirstSeen      time.Time      `json:"first_seen"`
	LastSeen       time.Time      `json:"last_seen"`
	Services       []string       `json:"services"`
}

// Summarize counts severities and records the time span and services a
// batch covers. Severities outside Severities are ignored.
func Summarize(batch models.TraceBatch) BatchStats {
	stats := BatchStats{
		LogCount:       len(batch),
		SeverityCounts: make(map[string]int, len(Severities)),
		Services:       []string{},
	}
	for _, s := range Severities {
		stats.SeverityCounts[s] = 0
	}
	if len(batch) == 0 {
		return stats
	}

	services := make(map[string]struct{})
	for _, entry := range batch {
		sev := strings.ToUpper(entry.Severity)
		if _, ok := stats.SeverityCounts[sev]; ok {
			stats.SeverityCounts[sev]++
		}
		if entry.Service != "" {
			services[entry.Service] = struct{}{}
		}
	}
	stats.HasErrors = stats.SeverityCounts["ERROR"] > 0 || stats.SeverityCounts["CRITICAL"] > 0
	stats.FirstSeen = batch[0].Timestamp
	stats.LastSeen = batch[len(batch)-1].Timestamp

	for svc := range services {
		stats.Services = append(stats.Services, svc)
	}
	sort.Strings(stats.Services)
	return stats
}

// ErrorRatio is the share of ERROR and CRITICAL entries in the batch.
func (s BatchStats) ErrorRatio() float64 {
	if s.LogCount == 0 {
		return 0
	}
	return float64(s.SeverityCounts["ERROR"]+s.SeverityCounts["CRITICAL"]) / float64(s.LogCount)
}
