// Package snapshot holds the immutable aggregate handed from the sampling
// pipeline to the renderer, and the single slot it is published through.
package snapshot

import (
	"maps"
	"slices"
	"time"

	"codeberg.org/mutker/socmon/internal/sample"
)

// Stats is the current value, rolling average and peak of one channel.
type Stats struct {
	Current float64
	Average float64
	Peak    float64
	// Entries is the number of readings in the averaging window.
	Entries int
}

// Snapshot is a versioned, immutable view of every channel. The zero
// value is the empty snapshot with generation 0.
type Snapshot struct {
	generation uint64
	taken      time.Time
	latest     sample.Sample
	channels   map[string]Stats
	keys       []string
}

// New builds a Snapshot. channels is copied.
func New(generation uint64, taken time.Time, latest sample.Sample, channels map[string]Stats) Snapshot {
	cloned := maps.Clone(channels)
	keys := slices.Sorted(maps.Keys(cloned))

	latest.Cores = slices.Clone(latest.Cores)
	latest.Clusters = slices.Clone(latest.Clusters)

	return Snapshot{
		generation: generation,
		taken:      taken,
		latest:     latest,
		channels:   cloned,
		keys:       keys,
	}
}

func (s Snapshot) Generation() uint64 { return s.generation }

// Taken is the wall-clock time the snapshot was built.
func (s Snapshot) Taken() time.Time { return s.taken }

// Latest returns the most recent Sample, for per-core display.
func (s Snapshot) Latest() sample.Sample {
	latest := s.latest
	latest.Cores = slices.Clone(latest.Cores)
	latest.Clusters = slices.Clone(latest.Clusters)
	return latest
}

// Channel returns the statistics for key. Channels without data read as
// zeros.
func (s Snapshot) Channel(key string) Stats {
	return s.channels[key]
}

// Has reports whether key has been observed.
func (s Snapshot) Has(key string) bool {
	_, ok := s.channels[key]
	return ok
}

// Keys returns the observed channel keys in sorted order.
func (s Snapshot) Keys() []string {
	return slices.Clone(s.keys)
}

// Empty reports whether nothing has been published yet.
func (s Snapshot) Empty() bool {
	return s.generation == 0
}
