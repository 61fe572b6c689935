// Package diff compares two position snapshots and produces the minimal event
// sequence that turns one into the other.
package diff

import "gtfs-watcher/internal/gtfs"

type Kind int

const (
	KindInit Kind = iota // synthetic full-state event for late joiners
	KindAdd
	KindChange
	KindRemove
)

// Name is the wire name of the event kind.
func (k Kind) Name() string {
	switch k {
	case KindInit:
		return "init"
	case KindAdd:
		return "add"
	case KindChange:
		return "change"
	case KindRemove:
		return "remove"
	}
	return "unknown"
}

// Event is one incremental change. Entity is nil for remove events: once an
// entity is gone its last record is no longer authoritative, so only the id
// goes to clients. LastKnown carries the stale record for subscriber filter
// matching and must never be serialized.
type Event struct {
	Kind      Kind
	EntityID  string
	Entity    *gtfs.VehiclePosition
	LastKnown *gtfs.VehiclePosition
}

// Diff emits add events for entities only in cur, change events for entities
// whose upstream timestamp moved forward, and remove events for entities only
// in prev. Equal timestamps mean "not updated" even if other fields differ;
// the upstream report time is the sole change authority, which keeps repeated
// identical reports (and float jitter inside them) from churning subscribers.
// Runs in O(|prev|+|cur|).
func Diff(prev, cur gtfs.Snapshot) []Event {
	events := make([]Event, 0)
	for id, c := range cur {
		p, ok := prev[id]
		if !ok {
			c := c
			events = append(events, Event{Kind: KindAdd, EntityID: id, Entity: &c})
			continue
		}
		if c.PositionUpdatedAt.After(p.PositionUpdatedAt) {
			c := c
			events = append(events, Event{Kind: KindChange, EntityID: id, Entity: &c})
		}
	}
	for id, p := range prev {
		if _, ok := cur[id]; !ok {
			p := p
			events = append(events, Event{Kind: KindRemove, EntityID: id, LastKnown: &p})
		}
	}
	return events
}

// Apply replays events onto a copy of the snapshot. It exists for consumers
// that mirror server state (and to keep Diff honest in tests).
func Apply(base gtfs.Snapshot, events []Event) gtfs.Snapshot {
	out := base.Clone()
	for _, ev := range events {
		switch ev.Kind {
		case KindAdd, KindChange, KindInit:
			if ev.Entity != nil {
				out[ev.EntityID] = *ev.Entity
			}
		case KindRemove:
			delete(out, ev.EntityID)
		}
	}
	return out
}
