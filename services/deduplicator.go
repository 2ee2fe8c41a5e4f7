package services

import (
	"sync"
	"time"
)

// Sighting is the outcome of observing an external id.
type Sighting struct {
	First       bool      // no earlier sighting in this run or in the seed
	FirstSeenAt time.Time // when the id was first observed this run
	LastSeenAt  time.Time // latest observation so far, this one included
	Seq         uint64    // monotonically increasing across all ids
}

type seenEntry struct {
	firstSeenAt time.Time
	lastSeenAt  time.Time
}

// Deduplicator tracks which external ids have been seen. Observe is the
// atomic check-and-mark used by concurrent workers.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]*seenEntry
	seq  uint64
}

// NewDeduplicator creates an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]*seenEntry)}
}

// Seed marks ids already present in the store. Seeded ids are treated as
// repeat sightings, so they are refreshed rather than inserted.
func (d *Deduplicator) Seed(ids map[string]struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range ids {
		if _, ok := d.seen[id]; !ok {
			d.seen[id] = &seenEntry{}
		}
	}
}

// ShouldPersist reports whether id has not been seen yet.
func (d *Deduplicator) ShouldPersist(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return !ok
}

// MarkSeen records a sighting of id now.
func (d *Deduplicator) MarkSeen(id string) {
	d.Observe(id, time.Now())
}

// Observe checks and marks id in one step. Two racing callers with the same id
// get exactly one First sighting.
func (d *Deduplicator) Observe(id string, at time.Time) Sighting {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	e, ok := d.seen[id]
	switch {
	case !ok:
		d.seen[id] = &seenEntry{firstSeenAt: at, lastSeenAt: at}
		return Sighting{First: true, FirstSeenAt: at, LastSeenAt: at, Seq: d.seq}
	case e.firstSeenAt.IsZero():
		// seeded from the store: first time this run
		e.firstSeenAt = at
	}
	if at.After(e.lastSeenAt) {
		e.lastSeenAt = at
	}
	return Sighting{First: false, FirstSeenAt: e.firstSeenAt, LastSeenAt: e.lastSeenAt, Seq: d.seq}
}

// Size returns the number of tracked ids, seeded ones included.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
