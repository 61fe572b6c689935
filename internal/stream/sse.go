// Package stream serializes diff events onto long-lived Server-Sent-Events
// connections.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"gtfs-watcher/internal/broker"
	"gtfs-watcher/internal/diff"
)

// LiveHandler returns the /api/live SSE endpoint. Filter validation happens
// here at the HTTP boundary so a bad filter is a 400, never a silent no-op
// subscription.
func LiveHandler(b *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		// The init batch is pre-queued by Subscribe, so it is always the
		// first thing written to the wire.
		sub := b.Subscribe(filter)
		defer b.Unsubscribe(sub)

		var seq uint64
		for {
			select {
			case <-r.Context().Done():
				return
			case <-sub.Dropped():
				// Best effort: tell the client why before closing.
				seq++
				writeStreamError(w, seq, "event queue overflow, reconnect for fresh state")
				flusher.Flush()
				return
			case batch := <-sub.Events():
				for _, ev := range batch {
					seq++
					if err := writeEvent(w, seq, ev); err != nil {
						// Broken pipe on this client only; defer unsubscribes.
						return
					}
				}
				flusher.Flush()
			}
		}
	}
}

// writeEvent emits one SSE frame:
//
//	id: <n>
//	event: init|add|change|remove
//	data: <JSON>
//
// followed by a blank line. Remove frames carry only the entity id, because
// the entity's full record is no longer authoritative.
func writeEvent(w io.Writer, id uint64, ev diff.Event) error {
	var payload []byte
	var err error
	if ev.Kind == diff.KindRemove {
		payload, err = json.Marshal(struct {
			EntityID string `json:"entity_id"`
		}{ev.EntityID})
	} else {
		payload, err = json.Marshal(ev.Entity)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.Kind.Name(), payload)
	return err
}

func writeStreamError(w io.Writer, id uint64, msg string) {
	payload, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{msg})
	_, _ = fmt.Fprintf(w, "id: %d\nevent: stream_error\ndata: %s\n\n", id, payload)
}

func parseFilter(q map[string][]string) (broker.Filter, error) {
	get := func(k string) string {
		if vs := q[k]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	f := broker.Filter{RouteID: get("routeId")}

	if s := get("directionId"); s != "" {
		switch s {
		case "0", "1":
			d, _ := strconv.Atoi(s)
			f.DirectionID = &d
		default:
			return broker.Filter{}, fmt.Errorf("directionId must be 0 or 1")
		}
	}

	if s := get("bbox"); s != "" {
		parts := strings.Split(s, ",")
		if len(parts) != 4 {
			return broker.Filter{}, fmt.Errorf("bbox must be minLon,minLat,maxLon,maxLat")
		}
		vals := make([]float64, 4)
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return broker.Filter{}, fmt.Errorf("bbox must be minLon,minLat,maxLon,maxLat")
			}
			vals[i] = v
		}
		box := broker.BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
		if box.MinLon >= box.MaxLon || box.MinLat >= box.MaxLat {
			return broker.Filter{}, fmt.Errorf("bbox min must be below max")
		}
		f.BBox = &box
	}

	return f, nil
}
