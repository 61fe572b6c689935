package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-watcher/internal/gtfs"
)

func pos(id string, lat, lon float64, updated time.Time) gtfs.VehiclePosition {
	return gtfs.VehiclePosition{
		EntityID:          id,
		Latitude:          lat,
		Longitude:         lon,
		RouteID:           "42",
		PositionUpdatedAt: updated,
	}
}

func byKind(events []Event) map[Kind][]Event {
	out := make(map[Kind][]Event)
	for _, ev := range events {
		out[ev.Kind] = append(out[ev.Kind], ev)
	}
	return out
}

func TestDiffIdenticalSnapshotsIsEmpty(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	s := gtfs.Snapshot{
		"A": pos("A", 1, 1, t0),
		"B": pos("B", 2, 2, t0),
	}
	assert.Empty(t, Diff(s, s))
	assert.Empty(t, Diff(s, s.Clone()))
}

func TestDiffAddedChangedRemoved(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	t1 := t0.Add(10 * time.Second)

	prev := gtfs.Snapshot{
		"A": pos("A", 1, 1, t0),
		"B": pos("B", 2, 2, t0),
	}
	cur := gtfs.Snapshot{
		"A": pos("A", 1.5, 1.5, t1), // moved, newer timestamp
		"C": pos("C", 3, 3, t1),     // new
	}

	kinds := byKind(Diff(prev, cur))
	require.Len(t, kinds[KindAdd], 1)
	assert.Equal(t, "C", kinds[KindAdd][0].EntityID)
	require.Len(t, kinds[KindChange], 1)
	assert.Equal(t, "A", kinds[KindChange][0].EntityID)
	require.Len(t, kinds[KindRemove], 1)
	assert.Equal(t, "B", kinds[KindRemove][0].EntityID)
}

func TestDiffChangeIsTimestampGated(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	prev := gtfs.Snapshot{"A": pos("A", 0, 0, t0)}
	// Same upstream timestamp, different position: not an update.
	cur := gtfs.Snapshot{"A": pos("A", 1, 1, t0)}
	assert.Empty(t, Diff(prev, cur))

	// Older timestamp is not an update either.
	cur = gtfs.Snapshot{"A": pos("A", 1, 1, t0.Add(-time.Second))}
	assert.Empty(t, Diff(prev, cur))
}

func TestDiffRemoveCarriesOnlyIDToClients(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	prev := gtfs.Snapshot{"A": pos("A", 1, 1, t0), "B": pos("B", 2, 2, t0)}
	cur := gtfs.Snapshot{"B": pos("B", 2, 2, t0)}

	events := Diff(prev, cur)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, KindRemove, ev.Kind)
	assert.Equal(t, "A", ev.EntityID)
	assert.Nil(t, ev.Entity, "serialized payload must not carry the stale record")
	require.NotNil(t, ev.LastKnown, "filter matching needs the last known state")
	assert.Equal(t, "42", ev.LastKnown.RouteID)
}

func TestDiffApplyRoundTrip(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	t1 := t0.Add(time.Minute)

	cases := []struct {
		name       string
		prev, cur  gtfs.Snapshot
		wantEvents int
	}{
		{
			name:       "empty to populated",
			prev:       gtfs.Snapshot{},
			cur:        gtfs.Snapshot{"A": pos("A", 1, 1, t0), "B": pos("B", 2, 2, t0)},
			wantEvents: 2,
		},
		{
			name:       "populated to empty",
			prev:       gtfs.Snapshot{"A": pos("A", 1, 1, t0)},
			cur:        gtfs.Snapshot{},
			wantEvents: 1,
		},
		{
			name: "mixed",
			prev: gtfs.Snapshot{"A": pos("A", 1, 1, t0), "B": pos("B", 2, 2, t0), "C": pos("C", 3, 3, t0)},
			cur:  gtfs.Snapshot{"A": pos("A", 9, 9, t1), "C": pos("C", 3, 3, t0), "D": pos("D", 4, 4, t1)},
			// change A, keep C, remove B, add D
			wantEvents: 3,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := Diff(tc.prev, tc.cur)
			assert.Len(t, events, tc.wantEvents)
			assert.Equal(t, tc.cur, Apply(tc.prev, events), "applying the diff must reproduce the target snapshot")
		})
	}
}

func TestKindNames(t *testing.T) {
	assert.Equal(t, "init", KindInit.Name())
	assert.Equal(t, "add", KindAdd.Name())
	assert.Equal(t, "change", KindChange.Name())
	assert.Equal(t, "remove", KindRemove.Name())
}
