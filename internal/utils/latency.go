package utils

import (
	"math"
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent analysis durations in a fixed ring
// and answers nearest-rank percentile queries over them.
type LatencyTracker struct {
	mu    sync.Mutex
	ring  []time.Duration
	next  int
	full  bool
	total uint64
}

// LatencySnapshot summarises the retained samples.
type LatencySnapshot struct {
	Samples int
	Total   uint64
	P50     time.Duration
	P95     time.Duration
	Max     time.Duration
}

// NewLatencyTracker creates a tracker retaining up to size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, size)}
}

// Observe records a duration, overwriting the oldest once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = d
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// Percentile returns the nearest-rank p-th percentile (0-100), or zero when
// nothing has been observed.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	return percentile(l.sorted(), p)
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retained()
}

// Snapshot returns the percentiles of interest in one pass.
func (l *LatencyTracker) Snapshot() LatencySnapshot {
	l.mu.Lock()
	total := l.total
	l.mu.Unlock()

	sorted := l.sorted()
	snap := LatencySnapshot{Samples: len(sorted), Total: total}
	if len(sorted) == 0 {
		return snap
	}
	snap.P50 = percentile(sorted, 50)
	snap.P95 = percentile(sorted, 95)
	snap.Max = sorted[len(sorted)-1]
	return snap
}

func (l *LatencyTracker) sorted() []time.Duration {
	l.mu.Lock()
	out := slices.Clone(l.ring[:l.retained()])
	l.mu.Unlock()
	slices.Sort(out)
	return out
}

// retained must be called with mu held.
func (l *LatencyTracker) retained() int {
	if l.full {
		return len(l.ring)
	}
	return l.next
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	return sorted[max(rank-1, 0)]
}
