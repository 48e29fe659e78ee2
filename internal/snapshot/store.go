package snapshot

import "sync/atomic"

// Store is the single slot shared between the producer and the renderer.
// Publish and Load are safe for concurrent use; readers never observe a
// partially built Snapshot or a generation older than one already seen.
type Store struct {
	slot atomic.Pointer[Snapshot]
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Publish replaces the stored Snapshot when s is newer. It reports false
// for stale or duplicate generations.
func (st *Store) Publish(s Snapshot) bool {
	next := &s
	for {
		current := st.slot.Load()
		if current != nil && current.generation >= s.generation {
			return false
		}
		if current == nil && s.generation == 0 {
			return false
		}
		if st.slot.CompareAndSwap(current, next) {
			return true
		}
	}
}

// Load returns the latest Snapshot, or the empty Snapshot before the first
// Publish.
func (st *Store) Load() Snapshot {
	if current := st.slot.Load(); current != nil {
		return *current
	}
	return Snapshot{}
}
