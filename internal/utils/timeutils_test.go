package utils

import (
	"testing"
	"time"
)

func TestWindowDefaultsToAnHour(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	start, end := Window(now, 0)
	if !end.Equal(now) || !start.Equal(now.Add(-time.Hour)) {
		t.Fatalf("unexpected window %s..%s", start, end)
	}
	start, _ = Window(now, 15)
	if !start.Equal(now.Add(-15 * time.Minute)) {
		t.Fatalf("unexpected start %s", start)
	}
}

func TestDurationMinutesOrderIndependent(t *testing.T) {
	a := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := a.Add(90 * time.Second)
	if DurationMinutes(a, b) != 1.5 || DurationMinutes(b, a) != 1.5 {
		t.Fatalf("expected 1.5 minutes")
	}
}
