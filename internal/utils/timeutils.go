package utils

import "time"

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}

// Window returns the [now-minutes, now] interval.
func Window(now time.Time, minutes int) (time.Time, time.Time) {
	if minutes <= 0 {
		minutes = 60
	}
	return now.Add(-time.Duration(minutes) * time.Minute), now
}
