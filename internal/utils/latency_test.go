package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerNearestRank(t *testing.T) {
	tracker := NewLatencyTracker(10)
	if tracker.Percentile(95) != 0 {
		t.Fatalf("expected zero percentile without samples")
	}
	for i := 1; i <= 5; i++ {
		tracker.Observe(time.Duration(i*10) * time.Millisecond)
	}

	if got := tracker.Percentile(50); got != 30*time.Millisecond {
		t.Fatalf("expected p50 30ms, got %v", got)
	}
	if got := tracker.Percentile(95); got != 50*time.Millisecond {
		t.Fatalf("expected p95 50ms, got %v", got)
	}
	if got := tracker.Percentile(0); got != 10*time.Millisecond {
		t.Fatalf("expected p0 to be the minimum, got %v", got)
	}
}

func TestLatencyTrackerRingOverwritesOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Second)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected 3 retained samples, got %d", tracker.Count())
	}
	snap := tracker.Snapshot()
	if snap.Total != 10 || snap.Samples != 3 {
		t.Fatalf("unexpected snapshot counts %+v", snap)
	}
	if snap.Max != 10*time.Second || tracker.Percentile(0) != 8*time.Second {
		t.Fatalf("expected only the newest samples to remain, got %+v", snap)
	}
}
