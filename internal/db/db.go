// Package db reads the schedule snapshot maintained by the external GTFS
// importer (postgis-gtfs-importer layout). The watcher only consumes it: no
// ETL, no writes.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gtfs-watcher/internal/gtfs"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchUpcomingArrivals returns today's scheduled visits at a stop for one
// route, optionally narrowed to a direction. Times come back as ServiceTime
// so late-night rows (>= 24:00:00) keep their service-day association.
func FetchUpcomingArrivals(ctx context.Context, db *sql.DB, routeID string, directionID *int, stopID string, now time.Time) ([]gtfs.ScheduledArrival, error) {
	serviceIDs, err := fetchActiveServiceIDs(ctx, db, now)
	if err != nil {
		return nil, err
	}
	if len(serviceIDs) == 0 {
		return nil, nil
	}

	q := `
SELECT st.trip_id, t.route_id, COALESCE(t.direction_id::text, ''), st.stop_id, st.arrival_time::text
FROM stop_times st
JOIN trips t ON t.trip_id = st.trip_id
WHERE st.stop_id = $1
  AND t.route_id = $2
  AND t.service_id = ANY($3)`
	args := []any{stopID, routeID, serviceIDs}
	if directionID != nil {
		q += ` AND t.direction_id::text = $4`
		args = append(args, strconv.Itoa(*directionID))
	}
	q += ` ORDER BY st.arrival_time`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query arrivals: %w", err)
	}
	defer rows.Close()

	var out []gtfs.ScheduledArrival
	for rows.Next() {
		var a gtfs.ScheduledArrival
		var dir, arrival string
		if err := rows.Scan(&a.TripID, &a.RouteID, &dir, &a.StopID, &arrival); err != nil {
			return nil, err
		}
		if d, err := strconv.Atoi(dir); err == nil {
			a.DirectionID = &d
		}
		a.Arrival = gtfs.ServiceTime(parseDaySeconds(arrival))
		out = append(out, a)
	}
	return out, rows.Err()
}

// FetchTripShapeID resolves the shape a trip follows; empty when the feed has
// no shape for it.
func FetchTripShapeID(ctx context.Context, db *sql.DB, tripID string) (string, error) {
	var shapeID sql.NullString
	err := db.QueryRowContext(ctx, `SELECT shape_id FROM trips WHERE trip_id = $1`, tripID).Scan(&shapeID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query trip shape: %w", err)
	}
	return shapeID.String, nil
}

// FetchShapePoints loads one shape's polyline. The importer either stores
// plain lat/lon columns or a PostGIS shape_pt_loc geography; both layouts are
// supported.
func FetchShapePoints(ctx context.Context, db *sql.DB, shapeID string) ([]gtfs.ShapePoint, error) {
	if shapeID == "" {
		return nil, nil
	}
	latlonExists, err := hasColumns(ctx, db, "public", "shapes", "shape_pt_lat", "shape_pt_lon")
	if err != nil {
		return nil, fmt.Errorf("introspect shapes columns: %w", err)
	}
	var q string
	if latlonExists["shape_pt_lat"] && latlonExists["shape_pt_lon"] {
		q = `SELECT shape_pt_lat, shape_pt_lon, shape_pt_sequence, COALESCE(shape_dist_traveled, 0)
             FROM shapes WHERE shape_id = $1 ORDER BY shape_pt_sequence`
	} else {
		locExists, err := hasColumns(ctx, db, "public", "shapes", "shape_pt_loc")
		if err != nil {
			return nil, fmt.Errorf("introspect shapes shape_pt_loc: %w", err)
		}
		if !locExists["shape_pt_loc"] {
			return nil, fmt.Errorf("shapes table missing expected columns (lat/lon or shape_pt_loc)")
		}
		q = `SELECT ST_Y(shape_pt_loc::geometry) AS lat,
                    ST_X(shape_pt_loc::geometry) AS lon,
                    shape_pt_sequence,
                    COALESCE(shape_dist_traveled, 0)
             FROM shapes WHERE shape_id = $1 ORDER BY shape_pt_sequence`
	}
	rows, err := db.QueryContext(ctx, q, shapeID)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()
	var pts []gtfs.ShapePoint
	for rows.Next() {
		var p gtfs.ShapePoint
		if err := rows.Scan(&p.Lat, &p.Lon, &p.Sequence, &p.DistTraveled); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

func fetchActiveServiceIDs(ctx context.Context, db *sql.DB, now time.Time) ([]string, error) {
	date := now.Format("2006-01-02")
	dow := int(now.Weekday()) // 0=Sunday

	// calendar has booleans (0/1). calendar_dates has exception_type (1 add, 2 remove)
	q := `
WITH base AS (
  SELECT service_id
  FROM calendar
  WHERE start_date <= $1::date AND end_date >= $1::date
    AND (
      ($2 = 0 AND (sunday::text IN ('1','t','true','available'))) OR
      ($2 = 1 AND (monday::text IN ('1','t','true','available'))) OR
      ($2 = 2 AND (tuesday::text IN ('1','t','true','available'))) OR
      ($2 = 3 AND (wednesday::text IN ('1','t','true','available'))) OR
      ($2 = 4 AND (thursday::text IN ('1','t','true','available'))) OR
      ($2 = 5 AND (friday::text IN ('1','t','true','available'))) OR
      ($2 = 6 AND (saturday::text IN ('1','t','true','available')))
    )
), add_exc AS (
  SELECT service_id FROM calendar_dates WHERE date = $1::date AND (exception_type::text IN ('1','added'))
), rm_exc AS (
  SELECT service_id FROM calendar_dates WHERE date = $1::date AND (exception_type::text IN ('2','removed'))
), merged AS (
  SELECT service_id FROM base
  UNION
  SELECT service_id FROM add_exc
)
SELECT DISTINCT service_id FROM merged
WHERE service_id NOT IN (SELECT service_id FROM rm_exc)
`

	rows, err := db.QueryContext(ctx, q, date, dow)
	if err != nil {
		return nil, fmt.Errorf("query active services: %w", err)
	}
	defer rows.Close()
	var svc []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		svc = append(svc, s)
	}
	return svc, rows.Err()
}

// parseDaySeconds parses HH:MM:SS possibly with hours >= 24. The importer's
// rows are trusted, so this stays lenient; the strict parser guards only the
// external string boundary.
func parseDaySeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec := 0
	if len(parts) > 2 {
		sec, _ = strconv.Atoi(parts[2])
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		total = 0
	}
	return total
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
