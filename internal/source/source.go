// Package source provides the upstream collaborators the watcher polls:
// either a GTFS-realtime HTTP feed or the NATS subjects fed by the external
// position importer/simulator.
package source

import (
	"context"

	"gtfs-watcher/internal/gtfs"
)

// Source yields the latest complete vehicle-position snapshot on demand. A
// failed fetch must leave the previous result untouched on the caller's side;
// sources never return a partial snapshot alongside an error.
type Source interface {
	FetchLatestVehiclePositions(ctx context.Context) ([]gtfs.VehiclePosition, error)
}
