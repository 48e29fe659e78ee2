// Package aggregate maintains per-channel rolling averages and peaks over
// the parsed sample stream and builds snapshots from them.
package aggregate

import (
	"time"

	"codeberg.org/mutker/socmon/internal/sample"
	"codeberg.org/mutker/socmon/internal/snapshot"
)

type channel struct {
	window  *RollingWindow
	peak    PeakTracker
	current float64
}

// Aggregator folds Samples into channel statistics. It is owned by the
// producer and not safe for concurrent use; consumers read the Snapshots
// it returns.
type Aggregator struct {
	span     time.Duration
	now      func() time.Time
	channels map[string]*channel

	latest   sample.Sample
	lastSeen time.Time
	ingested bool

	dirty      bool
	generation uint64
	last       snapshot.Snapshot
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the wall clock used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New returns an Aggregator averaging over span.
func New(span time.Duration, opts ...Option) *Aggregator {
	a := &Aggregator{
		span:     span,
		now:      time.Now,
		channels: make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest folds s into every channel it carries. Samples whose timestamp
// does not advance past the last ingested one are dropped and Ingest
// reports false.
func (a *Aggregator) Ingest(s sample.Sample) bool {
	if a.ingested && !s.Timestamp.After(a.lastSeen) {
		return false
	}

	for _, r := range s.Readings() {
		value := r.Value
		if r.Bounded && value < 0 {
			value = 0
		}

		ch, ok := a.channels[r.Channel]
		if !ok {
			ch = &channel{window: NewRollingWindow(a.span)}
			a.channels[r.Channel] = ch
		}
		ch.window.Push(s.Timestamp, value)
		ch.peak.Observe(value)
		ch.current = value
	}

	// Channels missing from this sample still age out.
	for _, ch := range a.channels {
		ch.window.Evict(s.Timestamp)
	}

	a.latest = s
	a.lastSeen = s.Timestamp
	a.ingested = true
	a.dirty = true

	return true
}

// Snapshot returns the current aggregate. The generation advances only
// when something was ingested since the previous call; otherwise the
// previous Snapshot is returned unchanged.
func (a *Aggregator) Snapshot() snapshot.Snapshot {
	if !a.dirty {
		return a.last
	}

	stats := make(map[string]snapshot.Stats, len(a.channels))
	for key, ch := range a.channels {
		stats[key] = snapshot.Stats{
			Current: ch.current,
			Average: ch.window.Mean(),
			Peak:    ch.peak.Value(),
			Entries: ch.window.Len(),
		}
	}

	a.generation++
	a.last = snapshot.New(a.generation, a.now(), a.latest, stats)
	a.dirty = false

	return a.last
}

// Generation is the generation of the most recent Snapshot.
func (a *Aggregator) Generation() uint64 {
	return a.generation
}

// Reset starts a new monitoring session: windows, peaks and the
// de-duplication watermark are cleared. The generation keeps counting so
// published snapshots stay monotonic.
func (a *Aggregator) Reset() {
	clear(a.channels)
	a.latest = sample.Sample{}
	a.lastSeen = time.Time{}
	a.ingested = false
	a.dirty = true
}
