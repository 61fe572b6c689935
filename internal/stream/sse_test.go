package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-watcher/internal/broker"
	"gtfs-watcher/internal/diff"
	"gtfs-watcher/internal/gtfs"
	"gtfs-watcher/internal/store"
)

func vehicle(id, routeID string) gtfs.VehiclePosition {
	return gtfs.VehiclePosition{
		EntityID:          id,
		Latitude:          40.4,
		Longitude:         -3.7,
		RouteID:           routeID,
		PositionUpdatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestWriteEventFrameFormat(t *testing.T) {
	v := vehicle("A", "42")

	var buf bytes.Buffer
	err := writeEvent(&buf, 7, diff.Event{Kind: diff.KindAdd, EntityID: "A", Entity: &v})
	require.NoError(t, err)

	payload, err := json.Marshal(&v)
	require.NoError(t, err)
	assert.Equal(t, "id: 7\nevent: add\ndata: "+string(payload)+"\n\n", buf.String())
}

func TestWriteEventRemoveCarriesOnlyEntityID(t *testing.T) {
	v := vehicle("B", "42")

	var buf bytes.Buffer
	err := writeEvent(&buf, 3, diff.Event{Kind: diff.KindRemove, EntityID: "B", LastKnown: &v})
	require.NoError(t, err)

	assert.Equal(t, "id: 3\nevent: remove\ndata: {\"entity_id\":\"B\"}\n\n", buf.String())
}

func TestWriteStreamError(t *testing.T) {
	var buf bytes.Buffer
	writeStreamError(&buf, 9, "event queue overflow")
	assert.Equal(t, "id: 9\nevent: stream_error\ndata: {\"message\":\"event queue overflow\"}\n\n", buf.String())
}

func TestLiveHandlerRejectsBadFilters(t *testing.T) {
	b := broker.New(store.New(), 4, nil)
	h := LiveHandler(b)

	bad := []string{
		"/api/live?directionId=2",
		"/api/live?directionId=north",
		"/api/live?bbox=1,2,3",
		"/api/live?bbox=a,b,c,d",
		"/api/live?bbox=3,0,1,2", // min >= max
	}
	for _, target := range bad {
		t.Run(target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest("GET", target, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, b.SubscriberCount(), "a rejected request must not leave a subscription behind")
		})
	}
}

// readFrame consumes one SSE frame (lines up to and excluding the blank
// separator line).
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

func TestLiveHandlerStreamsInitThenDiffs(t *testing.T) {
	st := store.New()
	st.ReplaceSnapshot(gtfs.Snapshot{"A": vehicle("A", "42")})
	b := broker.New(st, 8, nil)

	srv := httptest.NewServer(LiveHandler(b))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/live?routeId=42")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// The init frame for the pre-existing snapshot comes first.
	frame := readFrame(t, reader)
	assert.True(t, strings.HasPrefix(frame, "id: 1\nevent: init\ndata: "), "got %q", frame)
	assert.Contains(t, frame, `"entity_id":"A"`)

	// Push one tick with a matching add, a non-matching add, and a remove.
	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, time.Millisecond)
	added := vehicle("B", "42")
	other := vehicle("X", "7")
	removed := vehicle("A", "42")
	b.Publish([]diff.Event{
		{Kind: diff.KindAdd, EntityID: "B", Entity: &added},
		{Kind: diff.KindAdd, EntityID: "X", Entity: &other},
		{Kind: diff.KindRemove, EntityID: "A", LastKnown: &removed},
	})

	frame = readFrame(t, reader)
	assert.True(t, strings.HasPrefix(frame, "id: 2\nevent: add\ndata: "), "got %q", frame)
	assert.Contains(t, frame, `"entity_id":"B"`)
	assert.NotContains(t, frame, `"entity_id":"X"`, "the non-matching route must not reach this client")

	// The filtered-out add does not consume a sequence number on this stream.
	frame = readFrame(t, reader)
	assert.Equal(t, "id: 3\nevent: remove\ndata: {\"entity_id\":\"A\"}", frame)

	resp.Body.Close()
	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, time.Millisecond)
}
