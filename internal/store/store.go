// Package store holds the single current vehicle-position snapshot.
//
// The only mutation is whole-snapshot replacement through an atomic pointer
// swap; individual entries are never updated in place. Any reader therefore
// sees either the complete old snapshot or the complete new one, which is what
// lets the diff engine compare two fully-consistent views while the poller
// keeps writing.
package store

import (
	"sync/atomic"
	"time"

	"gtfs-watcher/internal/gtfs"
)

type Store struct {
	current atomic.Pointer[entry]
}

type entry struct {
	snapshot   gtfs.Snapshot
	replacedAt time.Time
}

func New() *Store {
	s := &Store{}
	s.current.Store(&entry{snapshot: gtfs.Snapshot{}})
	return s
}

// ReplaceSnapshot atomically swaps in the new snapshot and returns the
// previous one for diffing. The caller must not mutate next after handing it
// over.
func (s *Store) ReplaceSnapshot(next gtfs.Snapshot) gtfs.Snapshot {
	if next == nil {
		next = gtfs.Snapshot{}
	}
	prev := s.current.Swap(&entry{snapshot: next, replacedAt: time.Now()})
	return prev.snapshot
}

// Current returns the snapshot as of now. The returned map must be treated as
// read-only.
func (s *Store) Current() gtfs.Snapshot {
	return s.current.Load().snapshot
}

// Get looks up one entity in the current snapshot.
func (s *Store) Get(entityID string) (gtfs.VehiclePosition, bool) {
	v, ok := s.current.Load().snapshot[entityID]
	return v, ok
}

// LastReplacedAt reports when the snapshot was last swapped; zero before the
// first successful poll.
func (s *Store) LastReplacedAt() time.Time {
	return s.current.Load().replacedAt
}
