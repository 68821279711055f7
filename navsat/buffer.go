package navsat

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/google/btree"
)

// RawFix is one absolute position sample in the sensor's native frame.
type RawFix struct {
	Time     float64
	Position r3.Vector
}

func rawFixLess(a, b RawFix) bool {
	return a.Time < b.Time
}

// Buffer is the time ordered log of raw fixes. It is safe for concurrent use: the sensor driver
// writes while the calibration worker reads.
type Buffer struct {
	mu    sync.Mutex
	fixes *btree.BTreeG[RawFix]
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{fixes: btree.NewG(32, rawFixLess)}
}

func validTime(t float64) bool {
	return !math.IsNaN(t) && !math.IsInf(t, 0)
}

// AddPoint stores a fix. Fixes may arrive out of order; a fix at an existing time replaces it.
// Fixes with a NaN or infinite time are rejected with ErrInvalidTime.
func (b *Buffer) AddPoint(time float64, position r3.Vector) error {
	if !validTime(time) {
		return ErrInvalidTime
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fixes.ReplaceOrInsert(RawFix{Time: time, Position: position})
	return nil
}

// Len returns the number of stored fixes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fixes.Len()
}

// Span returns the times of the first and last fix.
func (b *Buffer) Span() (first, last float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	head, ok := b.fixes.Min()
	if !ok {
		return 0, 0, false
	}
	tail, _ := b.fixes.Max()
	return head.Time, tail.Time, true
}

// bracket returns the last fix at or before time and the first fix at or after it. The caller
// must hold b.mu.
func (b *Buffer) bracket(time float64) (before, after RawFix, hasBefore, hasAfter bool) {
	pivot := RawFix{Time: time}
	b.fixes.DescendLessOrEqual(pivot, func(fix RawFix) bool {
		before, hasBefore = fix, true
		return false
	})
	b.fixes.AscendGreaterOrEqual(pivot, func(fix RawFix) bool {
		after, hasAfter = fix, true
		return false
	})
	return before, after, hasBefore, hasAfter
}

// Nearest returns the fix closest in time to time. Ties go to the earlier fix.
func (b *Buffer) Nearest(time float64) (RawFix, error) {
	if math.IsNaN(time) {
		return RawFix{}, ErrInvalidTime
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	before, after, hasBefore, hasAfter := b.bracket(time)
	switch {
	case !hasBefore && !hasAfter:
		return RawFix{}, ErrInsufficientData
	case !hasAfter:
		return before, nil
	case !hasBefore:
		return after, nil
	case time-before.Time <= after.Time-time:
		return before, nil
	default:
		return after, nil
	}
}

// GetRawPoint returns the position of the fix nearest to time. Outside the stored range that is
// the nearest endpoint.
func (b *Buffer) GetRawPoint(time float64) (r3.Vector, error) {
	fix, err := b.Nearest(time)
	return fix.Position, err
}

// GetAroundPoint linearly interpolates between the fixes bracketing time. Outside the stored
// range it returns the nearest endpoint; it never extrapolates.
func (b *Buffer) GetAroundPoint(time float64) (r3.Vector, error) {
	if math.IsNaN(time) {
		return r3.Vector{}, ErrInvalidTime
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	before, after, hasBefore, hasAfter := b.bracket(time)
	switch {
	case !hasBefore && !hasAfter:
		return r3.Vector{}, ErrInsufficientData
	case !hasAfter:
		return before.Position, nil
	case !hasBefore:
		return after.Position, nil
	case before.Time == after.Time:
		return before.Position, nil
	}
	by := (time - before.Time) / (after.Time - before.Time)
	return before.Position.Add(after.Position.Sub(before.Position).Mul(by)), nil
}

// Range calls fn for every fix with start <= time <= end in ascending order until fn returns
// false. The fixes are copied out first, so fn may call back into the buffer.
func (b *Buffer) Range(start, end float64, fn func(RawFix) bool) {
	if end < start {
		return
	}
	b.mu.Lock()
	var fixes []RawFix
	b.fixes.AscendRange(RawFix{Time: start}, RawFix{Time: end}, func(fix RawFix) bool {
		fixes = append(fixes, fix)
		return true
	})
	if last, ok := b.fixes.Get(RawFix{Time: end}); ok {
		fixes = append(fixes, last)
	}
	b.mu.Unlock()

	for _, fix := range fixes {
		if !fn(fix) {
			return
		}
	}
}

// Reset removes every fix.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fixes.Clear(false)
}
