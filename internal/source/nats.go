package source

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"gtfs-watcher/internal/gtfs"
	"gtfs-watcher/internal/metrics"
)

// PositionMessage is the JSON payload the simulator publishes per trip
// subject (<route>.<trip>).
type PositionMessage struct {
	TripID    string    `json:"tripId"`
	RouteID   string    `json:"routeId"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Bearing   float64   `json:"bearing"`
	Progress  float64   `json:"progress"`
	SpeedMps  float64   `json:"speedMps"`
}

// NATS keeps the latest position per trip from a subject subscription and
// serves it as a snapshot on each fetch. Entries older than maxAge are
// evicted so vehicles that stop reporting eventually turn into remove events.
type NATS struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	maxAge time.Duration

	mu     sync.Mutex
	latest map[string]gtfs.VehiclePosition
}

func NewNATS(url, subject string, maxAge time.Duration, m *metrics.Collector) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("gtfs-watcher"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSConnected.Set(0)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSConnected.Set(1)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSConnected.Set(0)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSConnected.Set(1)
	}
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	s := &NATS{nc: nc, maxAge: maxAge, latest: make(map[string]gtfs.VehiclePosition)}
	sub, err := nc.Subscribe(subject, s.handle)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.sub = sub
	return s, nil
}

func (s *NATS) handle(msg *nats.Msg) {
	var pm PositionMessage
	if err := json.Unmarshal(msg.Data, &pm); err != nil {
		log.Printf("nats: bad position message on %s: %v", msg.Subject, err)
		return
	}
	if pm.TripID == "" {
		return
	}
	bearing := pm.Bearing
	speed := pm.SpeedMps
	progress := pm.Progress
	pos := gtfs.VehiclePosition{
		EntityID:          pm.TripID,
		Latitude:          pm.Lat,
		Longitude:         pm.Lon,
		Bearing:           &bearing,
		Speed:             &speed,
		TripID:            pm.TripID,
		RouteID:           pm.RouteID,
		Progress:          &progress,
		PositionUpdatedAt: pm.Timestamp,
	}
	s.mu.Lock()
	s.latest[pm.TripID] = pos
	s.mu.Unlock()
}

// FetchLatestVehiclePositions snapshots the retained positions, evicting
// entries whose upstream timestamp fell behind maxAge.
func (s *NATS) FetchLatestVehiclePositions(ctx context.Context) ([]gtfs.VehiclePosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-s.maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gtfs.VehiclePosition, 0, len(s.latest))
	for id, pos := range s.latest {
		if pos.PositionUpdatedAt.Before(cutoff) {
			delete(s.latest, id)
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func (s *NATS) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		_ = s.nc.Drain()
		s.nc.Close()
	}
}
