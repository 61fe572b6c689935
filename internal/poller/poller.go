// Package poller drives the fetch -> snapshot -> diff -> publish cycle.
package poller

import (
	"context"
	"log"
	"time"

	"gtfs-watcher/internal/broker"
	"gtfs-watcher/internal/diff"
	"gtfs-watcher/internal/gtfs"
	"gtfs-watcher/internal/metrics"
	"gtfs-watcher/internal/source"
	"gtfs-watcher/internal/store"
)

// degradedAfter is the consecutive-failure streak that flips the degraded
// gauge. Clients keep getting the last-good snapshot the whole time.
const degradedAfter = 3

// Enricher post-processes a fetched batch before it becomes the snapshot
// (e.g. percent-traveled from the schedule store). Implementations mutate the
// slice in place and must tolerate a canceled context.
type Enricher interface {
	Apply(ctx context.Context, positions []gtfs.VehiclePosition)
}

type Poller struct {
	source   source.Source
	store    *store.Store
	broker   *broker.Broker
	enricher Enricher // optional
	metrics  *metrics.Collector

	interval time.Duration
	timeout  time.Duration

	failures int
}

func New(src source.Source, st *store.Store, b *broker.Broker, interval, timeout time.Duration, m *metrics.Collector) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Poller{
		source:   src,
		store:    st,
		broker:   b,
		metrics:  m,
		interval: interval,
		timeout:  timeout,
	}
}

// SetEnricher installs an optional snapshot enricher. Must be called before Run.
func (p *Poller) SetEnricher(e Enricher) { p.enricher = e }

// Run polls once immediately and then on every tick until ctx is canceled.
// The loop is a single goroutine, so fetches never overlap, and ticks that
// elapsed while a slow poll was in flight are dropped rather than replayed.
func (p *Poller) Run(ctx context.Context) {
	p.Poll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
			// A poll that outlasted the interval leaves one buffered tick;
			// discard it so the next poll waits for a fresh tick instead of
			// firing back-to-back.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// Poll performs one fetch -> snapshot -> diff -> publish cycle.
func (p *Poller) Poll(ctx context.Context) {
	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	positions, err := p.source.FetchLatestVehiclePositions(fetchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.failures++
		log.Printf("poller: fetch failed (%d in a row, keeping last snapshot): %v", p.failures, err)
		if p.metrics != nil {
			p.metrics.PollFailures.Inc()
			if p.failures >= degradedAfter {
				p.metrics.Degraded.Set(1)
			}
		}
		if p.failures == degradedAfter {
			log.Printf("poller: upstream degraded after %d consecutive failures", p.failures)
		}
		// Last-good snapshot stays in the store; nothing is published.
		return
	}
	p.failures = 0
	if p.metrics != nil {
		p.metrics.Degraded.Set(0)
		p.metrics.PollSuccesses.Inc()
	}

	if p.enricher != nil {
		p.enricher.Apply(fetchCtx, positions)
	}

	next := make(gtfs.Snapshot, len(positions))
	for _, pos := range positions {
		next[pos.EntityID] = pos
	}
	prev := p.store.ReplaceSnapshot(next)

	events := diff.Diff(prev, next)
	if p.metrics != nil {
		p.metrics.SnapshotEntities.Set(float64(len(next)))
		for _, ev := range events {
			p.metrics.EventsEmitted.WithLabelValues(ev.Kind.Name()).Inc()
		}
		p.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}
	if len(events) > 0 {
		p.broker.Publish(events)
	}
}
