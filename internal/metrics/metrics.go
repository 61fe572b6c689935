package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	PollSuccesses prometheus.Counter
	PollFailures  prometheus.Counter
	PollDuration  prometheus.Histogram
	Degraded      prometheus.Gauge

	SnapshotEntities prometheus.Gauge
	EventsEmitted    *prometheus.CounterVec // kind label: add|change|remove

	Subscribers        prometheus.Gauge
	SubscribersDropped prometheus.Counter
	EventsDelivered    prometheus.Counter

	NATSConnected prometheus.Gauge
}

func NewCollector(pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		PollSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_poll_successes_total",
			Help: "Total successful upstream snapshot fetches.",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_poll_failures_total",
			Help: "Total failed upstream snapshot fetches.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watcher_poll_duration_seconds",
			Help:    "Duration of one fetch+diff+publish cycle.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watcher_degraded",
			Help: "1 while the upstream fetch keeps failing and clients are served stale data.",
		}),
		SnapshotEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watcher_snapshot_entities",
			Help: "Entities in the current snapshot.",
		}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watcher_events_emitted_total",
			Help: "Diff events emitted per kind.",
		}, []string{"kind"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watcher_subscribers",
			Help: "Currently connected stream subscribers.",
		}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_subscribers_dropped_total",
			Help: "Subscribers disconnected because their queue overflowed.",
		}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_events_delivered_total",
			Help: "Events enqueued to subscribers after filtering.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watcher_nats_connected",
			Help: "1 if the NATS source connection is established, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		c.PollSuccesses, c.PollFailures, c.PollDuration, c.Degraded,
		c.SnapshotEntities, c.EventsEmitted,
		c.Subscribers, c.SubscribersDropped, c.EventsDelivered,
		c.NATSConnected,
	)

	// Expose the configured cadence so dashboards can reason about staleness.
	interval := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watcher_poll_interval_seconds",
		Help: "Configured poll interval in seconds.",
	})
	reg.MustRegister(interval)
	interval.Set(pollInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
