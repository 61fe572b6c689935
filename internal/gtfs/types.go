package gtfs

import "time"

// VehiclePosition is the latest known state of one tracked entity. The key
// for snapshot diffing is EntityID (vehicle id when the upstream reports one,
// trip id otherwise). PositionUpdatedAt is the upstream report time for the
// observation, not the time this service saw it.
type VehiclePosition struct {
	EntityID            string            `json:"entity_id"`
	Latitude            float64           `json:"latitude"`
	Longitude           float64           `json:"longitude"`
	Bearing             *float64          `json:"bearing,omitempty"` // degrees [0,360)
	Speed               *float64          `json:"speed,omitempty"`   // meters/second
	TripID              string            `json:"trip_id,omitempty"`
	RouteID             string            `json:"route_id,omitempty"`
	DirectionID         *int              `json:"direction_id,omitempty"`
	CurrentStopSequence *int              `json:"current_stop_sequence,omitempty"`
	CurrentStatus       string            `json:"current_status,omitempty"`
	Progress            *float64          `json:"progress,omitempty"` // 0..1 along the trip shape
	ArrivalDelaySec     *int              `json:"arrival_delay_sec,omitempty"`
	PositionUpdatedAt   time.Time         `json:"position_updated_at"`
	Extra               map[string]string `json:"extra,omitempty"` // upstream fields we do not model
}

// Snapshot is a complete point-in-time view of all tracked entities, keyed by
// EntityID. A snapshot is built once per poll and never mutated afterwards, so
// two snapshots can always be compared as fully-consistent views.
type Snapshot map[string]VehiclePosition

// Clone returns a shallow copy safe to mutate independently.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ScheduledArrival is one scheduled stop visit, produced by the static
// schedule store and joined with live delay data for countdown display.
type ScheduledArrival struct {
	TripID      string      `json:"trip_id"`
	RouteID     string      `json:"route_id"`
	DirectionID *int        `json:"direction_id,omitempty"`
	StopID      string      `json:"stop_id"`
	Arrival     ServiceTime `json:"scheduled"`
}

// ShapePoint is one vertex of a trip's geographic polyline.
type ShapePoint struct {
	Lat          float64
	Lon          float64
	Sequence     int
	DistTraveled float64 // meters, if available; 0 if missing
}
