package aggregate

import "time"

type entry struct {
	at    time.Time
	value float64
}

// RollingWindow is the age-bounded history behind one channel's moving
// average. Entries are kept in timestamp order; eviction only ever removes
// from the front.
type RollingWindow struct {
	span    time.Duration
	entries []entry
	head    int
}

// NewRollingWindow returns a window covering span.
func NewRollingWindow(span time.Duration) *RollingWindow {
	return &RollingWindow{span: span}
}

// Push appends a value observed at ts and evicts everything older than
// ts minus the span. It reports false, leaving the window untouched, when
// ts does not advance past the newest entry.
func (w *RollingWindow) Push(ts time.Time, value float64) bool {
	if n := w.Len(); n > 0 && !ts.After(w.entries[len(w.entries)-1].at) {
		return false
	}

	w.entries = append(w.entries, entry{at: ts, value: value})
	w.Evict(ts)

	return true
}

// Evict drops entries older than now minus the span.
func (w *RollingWindow) Evict(now time.Time) {
	cutoff := now.Add(-w.span)
	for w.head < len(w.entries) && w.entries[w.head].at.Before(cutoff) {
		w.entries[w.head] = entry{}
		w.head++
	}

	if w.head == len(w.entries) {
		w.entries = w.entries[:0]
		w.head = 0
		return
	}
	// Compact once the dead prefix dominates.
	if w.head > len(w.entries)/2 {
		n := copy(w.entries, w.entries[w.head:])
		clear(w.entries[n:])
		w.entries = w.entries[:n]
		w.head = 0
	}
}

// Mean is the arithmetic mean of the live entries, or 0 when empty.
func (w *RollingWindow) Mean() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}

	// Incremental mean: a constant series yields exactly that constant.
	var mean float64
	for i, e := range w.entries[w.head:] {
		mean += (e.value - mean) / float64(i+1)
	}

	return mean
}

// Len is the number of live entries.
func (w *RollingWindow) Len() int {
	return len(w.entries) - w.head
}

// Oldest returns the timestamp of the oldest live entry.
func (w *RollingWindow) Oldest() (time.Time, bool) {
	if w.Len() == 0 {
		return time.Time{}, false
	}
	return w.entries[w.head].at, true
}

// PeakTracker is the maximum value observed since the session started.
type PeakTracker struct {
	peak float64
	seen bool
}

// Observe folds v into the peak.
func (p *PeakTracker) Observe(v float64) {
	if !p.seen || v > p.peak {
		p.peak = v
		p.seen = true
	}
}

// Value returns the peak, or 0 before the first observation.
func (p *PeakTracker) Value() float64 {
	return p.peak
}
