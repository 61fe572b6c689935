// Package broker fans diff events out to subscribers over bounded queues.
package broker

import (
	"log"
	"sync"

	"gtfs-watcher/internal/diff"
	"gtfs-watcher/internal/gtfs"
	"gtfs-watcher/internal/metrics"
	"gtfs-watcher/internal/store"
)

// BBox is a geographic bounding box filter.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

func (b BBox) contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Filter selects which entities a subscriber cares about. Zero value matches
// everything.
type Filter struct {
	RouteID     string
	DirectionID *int
	BBox        *BBox
}

// Match reports whether a position is relevant under the filter.
func (f Filter) Match(v *gtfs.VehiclePosition) bool {
	if v == nil {
		return false
	}
	if f.RouteID != "" && v.RouteID != f.RouteID {
		return false
	}
	if f.DirectionID != nil && (v.DirectionID == nil || *v.DirectionID != *f.DirectionID) {
		return false
	}
	if f.BBox != nil && !f.BBox.contains(v.Latitude, v.Longitude) {
		return false
	}
	return true
}

// Subscription is one client's live stream. Batches arrive on Events in tick
// order; Dropped is closed when the broker disconnects the subscriber because
// its queue overflowed.
type Subscription struct {
	id      uint64
	filter  Filter
	ch      chan []diff.Event
	dropped chan struct{}
}

func (s *Subscription) Events() <-chan []diff.Event { return s.ch }
func (s *Subscription) Dropped() <-chan struct{}    { return s.dropped }

// Broker owns the subscriber registry. One instance lives at the composition
// root and is shared by the poller (producer) and the HTTP transports
// (consumers); there is deliberately no package-level singleton.
type Broker struct {
	store     *store.Store
	queueSize int
	metrics   *metrics.Collector

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func New(st *store.Store, queueSize int, m *metrics.Collector) *Broker {
	if queueSize < 2 {
		queueSize = 2
	}
	return &Broker{
		store:     st,
		queueSize: queueSize,
		metrics:   m,
		subs:      make(map[uint64]*Subscription),
	}
}

// Subscribe registers a subscriber and front-loads one synthetic init batch
// covering every currently-stored entity the filter matches, so a late joiner
// has full state before the next poll tick. The snapshot read and the
// registration sit under the same lock Publish takes: a tick either lands in
// the init batch or arrives as a delivered batch, never neither. A tick seen
// both ways is fine, replaying it is a no-op.
func (b *Broker) Subscribe(f Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := b.store.Current()
	init := make([]diff.Event, 0, len(snapshot))
	for id, v := range snapshot {
		v := v
		if !f.Match(&v) {
			continue
		}
		init = append(init, diff.Event{Kind: diff.KindInit, EntityID: id, Entity: &v})
	}

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		filter:  f,
		ch:      make(chan []diff.Event, b.queueSize),
		dropped: make(chan struct{}),
	}
	if len(init) > 0 {
		sub.ch <- init // fresh buffered channel, cannot block
	}
	b.subs[sub.id] = sub
	if b.metrics != nil {
		b.metrics.Subscribers.Set(float64(len(b.subs)))
	}
	return sub
}

// Unsubscribe removes a subscriber. Safe to call more than once and safe to
// call for an already-dropped subscription.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	if b.metrics != nil {
		b.metrics.Subscribers.Set(float64(len(b.subs)))
	}
}

// SubscriberCount reports the number of registered subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers one tick's events to every subscriber whose filter matches,
// as a single batch per subscriber so events from two ticks never interleave
// on one stream. A subscriber whose queue is full is disconnected on the spot
// rather than allowed to stall the rest; it will see Dropped closed and can
// reconnect for a fresh init batch.
func (b *Broker) Publish(events []diff.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		batch := filterEvents(sub.filter, events)
		if len(batch) == 0 {
			continue
		}
		select {
		case sub.ch <- batch:
			if b.metrics != nil {
				b.metrics.EventsDelivered.Add(float64(len(batch)))
			}
		default:
			log.Printf("broker: dropping slow subscriber %d (queue full)", id)
			delete(b.subs, id)
			close(sub.dropped)
			if b.metrics != nil {
				b.metrics.SubscribersDropped.Inc()
				b.metrics.Subscribers.Set(float64(len(b.subs)))
			}
		}
	}
}

func filterEvents(f Filter, events []diff.Event) []diff.Event {
	out := make([]diff.Event, 0, len(events))
	for _, ev := range events {
		subject := ev.Entity
		if ev.Kind == diff.KindRemove {
			subject = ev.LastKnown
		}
		if f.Match(subject) {
			out = append(out, ev)
		}
	}
	return out
}
