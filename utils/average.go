package utils

import (
	"sync"
	"time"
)

// RollingAverage is the mean of the last N durations added. It is safe for concurrent use.
type RollingAverage struct {
	mu   sync.Mutex
	data []time.Duration
	pos  int
	full bool
}

// NewRollingAverage returns an average over numSamples samples.
func NewRollingAverage(numSamples int) *RollingAverage {
	if numSamples < 1 {
		numSamples = 1
	}
	return &RollingAverage{data: make([]time.Duration, numSamples)}
}

// NumSamples returns the window size.
func (ra *RollingAverage) NumSamples() int {
	return len(ra.data)
}

// Add records a sample, evicting the oldest once the window is full.
func (ra *RollingAverage) Add(d time.Duration) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.data[ra.pos] = d
	ra.pos++
	if ra.pos >= len(ra.data) {
		ra.pos = 0
		ra.full = true
	}
}

// Average returns the mean of the recorded samples, or 0 before the first one.
func (ra *RollingAverage) Average() time.Duration {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	n := ra.pos
	if ra.full {
		n = len(ra.data)
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ra.data[:n] {
		sum += d
	}
	return sum / time.Duration(n)
}
