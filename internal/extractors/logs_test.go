package extractors

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

func TestSummarize(t *testing.T) {
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	batch := models.TraceBatch{
		{Timestamp: start, Severity: "INFO", Service: "gateway"},
		{Timestamp: start.Add(time.Second), Severity: "error", Service: "payment-api"},
		{Timestamp: start.Add(2 * time.Second), Severity: "CRITICAL", Service: "payment-api"},
		{Timestamp: start.Add(3 * time.Second), Severity: "DEBUG", Service: "payment-api"},
	}

	stats := Summarize(batch)
	if stats.LogCount != 4 {
		t.Fatalf("expected 4 logs, got %d", stats.LogCount)
	}
	if stats.SeverityCounts["ERROR"] != 1 || stats.SeverityCounts["CRITICAL"] != 1 || stats.SeverityCounts["INFO"] != 1 {
		t.Fatalf("unexpected severity counts %+v", stats.SeverityCounts)
	}
	if !stats.HasErrors {
		t.Fatalf("expected has_errors")
	}
	if !stats.FirstSeen.Equal(start) || !stats.LastSeen.Equal(start.Add(3*time.Second)) {
		t.Fatalf("unexpected span %v - %v", stats.FirstSeen, stats.LastSeen)
	}
	if len(stats.Services) != 2 || stats.Services[0] != "gateway" {
		t.Fatalf("unexpected services %v", stats.Services)
	}
	if stats.ErrorRatio() != 0.5 {
		t.Fatalf("expected error ratio 0.5, got %v", stats.ErrorRatio())
	}
}

func TestSummarizeEmpty(t *testing.T) {
	stats := Summarize(nil)
	if stats.HasErrors || stats.LogCount != 0 || stats.ErrorRatio() != 0 {
		t.Fatalf("unexpected stats for empty batch %+v", stats)
	}
	if stats.SeverityCounts["WARNING"] != 0 {
		t.Fatalf("expected zeroed severity counts")
	}
}
