package model

import (
	"fmt"
	"math"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine great-circle distance to other.
func (p GeoPoint) DistanceMeters(other GeoPoint) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - p.Lat) * math.Pi / 180
	dLng := (other.Lng - p.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Key returns the point rounded to 4 decimal places (~11m), used to key
// route cache entries so sub-meter GPS jitter does not thrash the cache.
func (p GeoPoint) Key() string {
	return fmt.Sprintf("%.4f,%.4f", p.Lat, p.Lng)
}

// RouteKey builds a cache key for a directed origin→destination pair.
func RouteKey(origin, destination GeoPoint) string {
	return origin.Key() + "|" + destination.Key()
}
