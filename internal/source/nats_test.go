package source

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-watcher/internal/gtfs"
)

func natsMsg(t *testing.T, pm PositionMessage) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(pm)
	require.NoError(t, err)
	return &nats.Msg{Subject: pm.RouteID + "." + pm.TripID, Data: data}
}

func TestNATSRetainsLatestPerTrip(t *testing.T) {
	s := &NATS{maxAge: 2 * time.Minute, latest: make(map[string]gtfs.VehiclePosition)}
	now := time.Now().UTC()

	s.handle(natsMsg(t, PositionMessage{
		TripID: "trip-1", RouteID: "42", Timestamp: now.Add(-10 * time.Second),
		Lat: 40.0, Lon: -3.7, Bearing: 45, Progress: 0.2, SpeedMps: 8,
	}))
	s.handle(natsMsg(t, PositionMessage{
		TripID: "trip-1", RouteID: "42", Timestamp: now,
		Lat: 40.1, Lon: -3.6, Bearing: 50, Progress: 0.25, SpeedMps: 9,
	}))

	positions, err := s.FetchLatestVehiclePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)

	pos := positions[0]
	assert.Equal(t, "trip-1", pos.EntityID)
	assert.Equal(t, "42", pos.RouteID)
	assert.InDelta(t, 40.1, pos.Latitude, 1e-9, "later message wins")
	require.NotNil(t, pos.Progress)
	assert.InDelta(t, 0.25, *pos.Progress, 1e-9)
	assert.Equal(t, now, pos.PositionUpdatedAt)
}

func TestNATSEvictsStaleEntries(t *testing.T) {
	s := &NATS{maxAge: time.Minute, latest: make(map[string]gtfs.VehiclePosition)}
	now := time.Now().UTC()

	s.handle(natsMsg(t, PositionMessage{TripID: "fresh", RouteID: "42", Timestamp: now}))
	s.handle(natsMsg(t, PositionMessage{TripID: "stale", RouteID: "42", Timestamp: now.Add(-5 * time.Minute)}))

	positions, err := s.FetchLatestVehiclePositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "fresh", positions[0].EntityID)

	// Eviction is permanent, not just filtered from one fetch.
	s.mu.Lock()
	_, retained := s.latest["stale"]
	s.mu.Unlock()
	assert.False(t, retained)
}

func TestNATSIgnoresMalformedMessages(t *testing.T) {
	s := &NATS{maxAge: time.Minute, latest: make(map[string]gtfs.VehiclePosition)}

	s.handle(&nats.Msg{Subject: "42.trip-1", Data: []byte("not json")})
	s.handle(natsMsg(t, PositionMessage{TripID: "", RouteID: "42", Timestamp: time.Now()}))

	positions, err := s.FetchLatestVehiclePositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.FetchLatestVehiclePositions(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
