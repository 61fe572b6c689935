// Package server wires the HTTP surface: live SSE stream, schedule-joined
// arrivals, health.
package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"gtfs-watcher/internal/broker"
	"gtfs-watcher/internal/db"
	"gtfs-watcher/internal/gtfs"
	"gtfs-watcher/internal/store"
	"gtfs-watcher/internal/stream"
)

type Options struct {
	Addr           string
	AllowedOrigins []string
	Store          *store.Store
	Broker         *broker.Broker
	ScheduleDB     *sql.DB // nil disables /api/arrivals
	Location       *time.Location
}

// New builds the HTTP server. WriteTimeout stays 0 because the SSE stream is
// a deliberately unbounded response.
func New(opts Options) *http.Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", healthHandler(opts.Store))
	r.Get("/api/live", stream.LiveHandler(opts.Broker))
	r.Get("/api/arrivals", arrivalsHandler(opts.ScheduleDB, opts.Store, opts.Location))

	return &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func healthHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":   "ok",
			"entities": len(st.Current()),
		}
		if t := st.LastReplacedAt(); !t.IsZero() {
			resp["snapshot_age_seconds"] = int(time.Since(t).Seconds())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Arrival is one countdown row on /api/arrivals.
type Arrival struct {
	TripID    string           `json:"trip_id"`
	RouteID   string           `json:"route_id"`
	StopID    string           `json:"stop_id"`
	Scheduled gtfs.ServiceTime `json:"scheduled"`
	DelaySec  int              `json:"delay_sec"`
	Minutes   int              `json:"minutes"`
	Live      bool             `json:"live"`
}

// arrivalsHandler joins today's schedule at a stop with live per-trip delays
// from the current snapshot and returns clamped countdowns.
func arrivalsHandler(scheduleDB *sql.DB, st *store.Store, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if scheduleDB == nil {
			http.Error(w, "schedule store not configured", http.StatusServiceUnavailable)
			return
		}
		q := r.URL.Query()
		routeID := q.Get("routeId")
		stopID := q.Get("stopId")
		if routeID == "" || stopID == "" {
			http.Error(w, "routeId and stopId are required", http.StatusBadRequest)
			return
		}
		var directionID *int
		switch q.Get("directionId") {
		case "":
		case "0":
			d := 0
			directionID = &d
		case "1":
			d := 1
			directionID = &d
		default:
			http.Error(w, "directionId must be 0 or 1", http.StatusBadRequest)
			return
		}

		now := time.Now().In(loc)
		scheduled, err := db.FetchUpcomingArrivals(r.Context(), scheduleDB, routeID, directionID, stopID, now)
		if err != nil {
			http.Error(w, "schedule store unavailable", http.StatusBadGateway)
			return
		}

		// Index live delays by trip from the current snapshot.
		delays := make(map[string]int)
		for _, pos := range st.Current() {
			if pos.TripID != "" && pos.ArrivalDelaySec != nil {
				delays[pos.TripID] = *pos.ArrivalDelaySec
			}
		}

		out := make([]Arrival, 0, len(scheduled))
		for _, a := range scheduled {
			delay, live := delays[a.TripID]
			mins := gtfs.MinutesUntilArrival(a.Arrival, delay, now, true)
			// Past visits with no live signal are yesterday's rows, skip them.
			if mins == 0 && !live && a.Arrival.Absolute(midnight(now)).Before(now.Add(-time.Minute)) {
				continue
			}
			out = append(out, Arrival{
				TripID:    a.TripID,
				RouteID:   a.RouteID,
				StopID:    a.StopID,
				Scheduled: a.Arrival,
				DelaySec:  delay,
				Minutes:   mins,
				Live:      live,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Minutes < out[j].Minutes })

		writeJSON(w, http.StatusOK, out)
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
