package gtfs

import "math"

const earthRadiusM = 6371000.0

// HaversineMeters is the great-circle distance between two coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// CumulativeDistances returns the running distance in meters at each shape
// point. When the feed already carries shape_dist_traveled values they are
// trusted but forced monotonic; otherwise distances are derived by haversine.
func CumulativeDistances(pts []ShapePoint) []float64 {
	n := len(pts)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	if pts[0].DistTraveled > 0 || (n > 1 && pts[1].DistTraveled > 0) {
		prev := 0.0
		for i := 0; i < n; i++ {
			d := pts[i].DistTraveled
			if d < prev {
				d = prev
			}
			cum[i] = d
			prev = d
		}
		return cum
	}
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += HaversineMeters(pts[i-1].Lat, pts[i-1].Lon, pts[i].Lat, pts[i].Lon)
		cum[i] = sum
	}
	return cum
}

// NearestDistanceAlongShape projects a coordinate onto the polyline and
// returns the cumulative distance of the closest point. Segments are compared
// in a local equirectangular plane centered on the query point, which is
// accurate enough at vehicle-to-shape distances.
func NearestDistanceAlongShape(pts []ShapePoint, cum []float64, lat, lon float64) float64 {
	n := len(pts)
	if n == 0 {
		return 0
	}
	if len(cum) != n {
		cum = CumulativeDistances(pts)
	}
	cosLat := math.Cos(lat * math.Pi / 180)
	toXY := func(p ShapePoint) (x, y float64) {
		y = (p.Lat - lat) * math.Pi / 180 * earthRadiusM
		x = (p.Lon - lon) * math.Pi / 180 * earthRadiusM * cosLat
		return
	}
	best2 := math.MaxFloat64
	bestAlong := 0.0
	x0, y0 := toXY(pts[0])
	for i := 1; i < n; i++ {
		x1, y1 := toXY(pts[i])
		dx := x1 - x0
		dy := y1 - y0
		segLen2 := dx*dx + dy*dy
		t := 0.0
		if segLen2 > 0 {
			// projection of the origin (the query point) onto the segment
			t = -(x0*dx + y0*dy) / segLen2
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}
		}
		px := x0 + t*dx
		py := y0 + t*dy
		d2 := px*px + py*py
		if d2 < best2 {
			best2 = d2
			bestAlong = cum[i-1] + t*(cum[i]-cum[i-1])
		}
		x0, y0 = x1, y1
	}
	return bestAlong
}
