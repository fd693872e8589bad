package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean radius used for all great-circle distances.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS84-style position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) latLng() s2.LatLng { return s2.LatLngFromDegrees(c.Lat, c.Lon) }

// Distance returns the haversine distance in meters between a and b.
func Distance(a, b Coordinate) float64 {
	return a.latLng().Distance(b.latLng()).Radians() * EarthRadiusMeters
}

// Valid reports whether c is a finite coordinate within lat/lon range.
func Valid(c Coordinate) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.latLng().IsValid()
}

// Bearing returns the initial bearing from a to b in degrees, 0..360 clockwise from north.
func Bearing(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// Interpolate returns the point at fraction f along the straight segment a->b.
// Good enough for the short segments of a walking route.
func Interpolate(a, b Coordinate, f float64) Coordinate {
	if f <= 0 {
		return a
	}
	if f >= 1 {
		return b
	}
	return Coordinate{
		Lat: a.Lat + (b.Lat-a.Lat)*f,
		Lon: a.Lon + (b.Lon-a.Lon)*f,
	}
}

// Offset moves c by the given north/east displacement in meters using an
// equirectangular approximation.
func Offset(c Coordinate, northM, eastM float64) Coordinate {
	dLat := northM / EarthRadiusMeters * 180 / math.Pi
	dLon := eastM / (EarthRadiusMeters * math.Cos(c.Lat*math.Pi/180)) * 180 / math.Pi
	return Coordinate{Lat: c.Lat + dLat, Lon: c.Lon + dLon}
}
