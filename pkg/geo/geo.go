// Package geo provides great-circle distance and bounding-box math for
// collection regions. All positions use the WGS84 coordinate system.
package geo

import "math"

const (
	// EarthRadiusMiles is the Earth's mean radius in statute miles.
	EarthRadiusMiles = 3958.7613

	// MilesPerDegree approximates one degree of latitude in statute miles.
	MilesPerDegree = 69.0

	// bboxMargin widens a derived bounding box by 2% so that aircraft on the
	// edge of a region are not clipped by upstream bounding-box queries.
	bboxMargin = 1.02
)

// Point is a position on Earth's surface in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// BoundingBox is the (lamin, lomin, lamax, lomax) rectangle used to scope
// wide-area queries.
type BoundingBox struct {
	LatMin float64
	LonMin float64
	LatMax float64
	LonMax float64
}

// Contains reports whether p lies inside the box, widened by tol degrees on
// every side. A point exactly on the boundary is inside.
func (b BoundingBox) Contains(p Point, tol float64) bool {
	return p.Lat >= b.LatMin-tol && p.Lat <= b.LatMax+tol &&
		p.Lon >= b.LonMin-tol && p.Lon <= b.LonMax+tol
}

// AreaDeg2 returns the box area in square degrees. Used for wide-area API
// credit estimation.
func (b BoundingBox) AreaDeg2() float64 {
	return (b.LatMax - b.LatMin) * (b.LonMax - b.LonMin)
}

// DistanceMiles returns the great-circle distance between a and b in statute
// miles, using the haversine formula.
func DistanceMiles(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMiles * math.Asin(math.Sqrt(h))
}

// DeriveBoundingBox computes the bounding box covering a circle of
// radiusMiles around center, widened by the 2% safety margin. Longitude
// degrees shrink with latitude, so the offset is scaled by 1/cos(lat).
// Degenerate inputs (poles, radius covering 90 degrees or more of latitude)
// clamp to the full globe.
func DeriveBoundingBox(center Point, radiusMiles float64) BoundingBox {
	latOffset := radiusMiles / MilesPerDegree * bboxMargin

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if latOffset >= 90 || cosLat <= 0 {
		return BoundingBox{LatMin: -90, LonMin: -180, LatMax: 90, LonMax: 180}
	}

	lonOffset := radiusMiles / (MilesPerDegree * cosLat) * bboxMargin

	box := BoundingBox{
		LatMin: center.Lat - latOffset,
		LonMin: center.Lon - lonOffset,
		LatMax: center.Lat + latOffset,
		LonMax: center.Lon + lonOffset,
	}

	if box.LatMin < -90 {
		box.LatMin = -90
	}
	if box.LatMax > 90 {
		box.LatMax = 90
	}
	// A lon span of 360 degrees or more wraps the globe.
	if box.LonMax-box.LonMin >= 360 {
		box.LonMin, box.LonMax = -180, 180
	} else {
		if box.LonMin < -180 {
			box.LonMin = -180
		}
		if box.LonMax > 180 {
			box.LonMax = 180
		}
	}
	return box
}
