// Package enrich fills in percent-traveled for positions whose source does
// not report progress, by projecting the coordinate onto the trip's shape
// from the schedule store.
package enrich

import (
	"context"
	"database/sql"
	"log"
	"sync"

	"gtfs-watcher/internal/db"
	"gtfs-watcher/internal/gtfs"
)

type shapeRef struct {
	pts   []gtfs.ShapePoint
	cum   []float64
	total float64
}

type Enricher struct {
	db *sql.DB

	mu        sync.Mutex
	shapes    map[string]*shapeRef // shapeID -> polyline; nil entry = known unusable
	tripShape map[string]string    // tripID -> shapeID; "" = known to have none
}

func New(sqlDB *sql.DB) *Enricher {
	return &Enricher{
		db:        sqlDB,
		shapes:    make(map[string]*shapeRef),
		tripShape: make(map[string]string),
	}
}

// Apply sets Progress on every position that has a trip, lacks a progress
// value, and whose trip has a usable shape. Lookups are cached for the life
// of the process; a schedule-store hiccup skips enrichment for the batch
// instead of failing the poll.
func (e *Enricher) Apply(ctx context.Context, positions []gtfs.VehiclePosition) {
	for i := range positions {
		pos := &positions[i]
		if pos.Progress != nil || pos.TripID == "" {
			continue
		}
		ref, err := e.shapeForTrip(ctx, pos.TripID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("enrich: shape lookup for trip %s failed: %v", pos.TripID, err)
			continue
		}
		if ref == nil {
			continue
		}
		along := gtfs.NearestDistanceAlongShape(ref.pts, ref.cum, pos.Latitude, pos.Longitude)
		frac, err := gtfs.PercentTraveled(along, ref.total)
		if err != nil {
			continue
		}
		pos.Progress = &frac
	}
}

func (e *Enricher) shapeForTrip(ctx context.Context, tripID string) (*shapeRef, error) {
	e.mu.Lock()
	shapeID, known := e.tripShape[tripID]
	e.mu.Unlock()

	if !known {
		var err error
		shapeID, err = db.FetchTripShapeID(ctx, e.db, tripID)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.tripShape[tripID] = shapeID
		e.mu.Unlock()
	}
	if shapeID == "" {
		return nil, nil
	}

	e.mu.Lock()
	ref, cached := e.shapes[shapeID]
	e.mu.Unlock()
	if cached {
		return ref, nil
	}

	pts, err := db.FetchShapePoints(ctx, e.db, shapeID)
	if err != nil {
		return nil, err
	}
	ref = nil
	if len(pts) > 1 {
		cum := gtfs.CumulativeDistances(pts)
		if total := cum[len(cum)-1]; total > 0 {
			ref = &shapeRef{pts: pts, cum: cum, total: total}
		}
	}
	e.mu.Lock()
	e.shapes[shapeID] = ref
	e.mu.Unlock()
	return ref, nil
}
