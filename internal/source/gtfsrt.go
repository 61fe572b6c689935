package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"gtfs-watcher/internal/gtfs"
)

// GTFSRT fetches protobuf FeedMessages over HTTP. The vehicle positions feed
// drives the snapshot; the trip updates feed is optional and only contributes
// per-trip arrival delays.
type GTFSRT struct {
	client         *http.Client
	vehiclesURL    string
	tripUpdatesURL string
}

func NewGTFSRT(vehiclesURL, tripUpdatesURL string, timeout time.Duration) *GTFSRT {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GTFSRT{
		client:         &http.Client{Timeout: timeout},
		vehiclesURL:    vehiclesURL,
		tripUpdatesURL: tripUpdatesURL,
	}
}

func (g *GTFSRT) FetchLatestVehiclePositions(ctx context.Context) ([]gtfs.VehiclePosition, error) {
	feed, err := g.fetchFeed(ctx, g.vehiclesURL)
	if err != nil {
		return nil, fmt.Errorf("vehicle positions: %w", err)
	}

	delays := map[string]int{}
	if g.tripUpdatesURL != "" {
		delays, err = g.fetchTripDelays(ctx)
		if err != nil {
			// Non-fatal: positions are still usable without delay enrichment.
			log.Printf("gtfsrt: trip updates fetch failed (continuing without delays): %v", err)
			delays = map[string]int{}
		}
	}

	headerTS := time.Now()
	if feed.Header != nil && feed.Header.Timestamp != nil {
		headerTS = time.Unix(int64(feed.Header.GetTimestamp()), 0).UTC()
	}

	positions := make([]gtfs.VehiclePosition, 0, len(feed.Entity))
	for _, entity := range feed.Entity {
		vehicle := entity.Vehicle
		if vehicle == nil || vehicle.Position == nil {
			continue
		}

		pos := gtfs.VehiclePosition{
			Latitude:  float64(vehicle.Position.GetLatitude()),
			Longitude: float64(vehicle.Position.GetLongitude()),
		}

		// Stable diff key: vehicle id when present, entity id otherwise.
		switch {
		case vehicle.Vehicle != nil && vehicle.Vehicle.GetId() != "":
			pos.EntityID = vehicle.Vehicle.GetId()
		default:
			pos.EntityID = entity.GetId()
		}
		if pos.EntityID == "" {
			continue
		}

		if vehicle.Position.Bearing != nil {
			b := float64(vehicle.Position.GetBearing())
			pos.Bearing = &b
		}
		if vehicle.Position.Speed != nil {
			s := float64(vehicle.Position.GetSpeed())
			pos.Speed = &s
		}
		if trip := vehicle.Trip; trip != nil {
			pos.TripID = trip.GetTripId()
			pos.RouteID = trip.GetRouteId()
			if trip.DirectionId != nil {
				d := int(trip.GetDirectionId())
				pos.DirectionID = &d
			}
		}
		if vehicle.CurrentStopSequence != nil {
			seq := int(vehicle.GetCurrentStopSequence())
			pos.CurrentStopSequence = &seq
		}
		if vehicle.CurrentStatus != nil {
			pos.CurrentStatus = vehicle.GetCurrentStatus().String()
		}
		if vehicle.Timestamp != nil {
			pos.PositionUpdatedAt = time.Unix(int64(vehicle.GetTimestamp()), 0).UTC()
		} else {
			pos.PositionUpdatedAt = headerTS
		}
		if d, ok := delays[pos.TripID]; ok && pos.TripID != "" {
			d := d
			pos.ArrivalDelaySec = &d
		}

		// Upstream fields we do not model stay available to clients.
		if vehicle.Vehicle != nil && vehicle.Vehicle.GetLabel() != "" {
			pos.Extra = map[string]string{"vehicle_label": vehicle.Vehicle.GetLabel()}
		}
		if vehicle.OccupancyStatus != nil {
			if pos.Extra == nil {
				pos.Extra = map[string]string{}
			}
			pos.Extra["occupancy_status"] = vehicle.GetOccupancyStatus().String()
		}

		positions = append(positions, pos)
	}
	return positions, nil
}

// fetchTripDelays maps trip id to the arrival delay of the next stop time
// update that carries one.
func (g *GTFSRT) fetchTripDelays(ctx context.Context) (map[string]int, error) {
	feed, err := g.fetchFeed(ctx, g.tripUpdatesURL)
	if err != nil {
		return nil, err
	}
	delays := make(map[string]int)
	for _, entity := range feed.Entity {
		tu := entity.TripUpdate
		if tu == nil || tu.Trip == nil || tu.Trip.GetTripId() == "" {
			continue
		}
		tripID := tu.Trip.GetTripId()
		if tu.Delay != nil {
			delays[tripID] = int(tu.GetDelay())
			continue
		}
		for _, stu := range tu.StopTimeUpdate {
			if stu.Arrival != nil && stu.Arrival.Delay != nil {
				delays[tripID] = int(stu.Arrival.GetDelay())
				break
			}
		}
	}
	return delays, nil
}

func (g *GTFSRT) fetchFeed(ctx context.Context, url string) (*gtfsrt.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	feed := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return feed, nil
}
