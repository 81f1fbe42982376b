// Package domain contains the core business entities and value objects.
package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// MetersPerDegree approximates the length of one degree of latitude.
const MetersPerDegree = 111320.0

// Point is a WGS84 position in decimal degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// NewPoint creates a point from longitude and latitude.
func NewPoint(lon, lat float64) Point {
	return Point{Lon: lon, Lat: lat}
}

// Validate checks that the point is a finite WGS84 position.
func (p Point) Validate() error {
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180 {
		return &ValidationError{
			Field:      "longitude",
			Value:      p.Lon,
			Constraint: "[-180, 180]",
			Message:    "longitude must be between -180 and 180",
		}
	}
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return &ValidationError{
			Field:      "latitude",
			Value:      p.Lat,
			Constraint: "[-90, 90]",
			Message:    "latitude must be between -90 and 90",
		}
	}
	return nil
}

// Orb converts the point to an orb.Point.
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// String returns a string representation of the point.
func (p Point) String() string {
	return fmt.Sprintf("POINT(%f %f)", p.Lon, p.Lat)
}

// DistanceMeters returns the great-circle (haversine) distance to q.
func (p Point) DistanceMeters(q Point) float64 {
	return geo.DistanceHaversine(p.Orb(), q.Orb())
}

// Extent represents a spatial bounding box in degrees.
type Extent struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// EmptyExtent returns an inverted extent that any Extend call will replace.
func EmptyExtent() Extent {
	return Extent{
		MinLon: math.Inf(1), MinLat: math.Inf(1),
		MaxLon: math.Inf(-1), MaxLat: math.Inf(-1),
	}
}

// Extend grows the extent to include p.
func (e *Extent) Extend(p Point) {
	e.MinLon = math.Min(e.MinLon, p.Lon)
	e.MinLat = math.Min(e.MinLat, p.Lat)
	e.MaxLon = math.Max(e.MaxLon, p.Lon)
	e.MaxLat = math.Max(e.MaxLat, p.Lat)
}

// Contains checks if a point is within the extent.
func (e Extent) Contains(p Point) bool {
	return p.Lon >= e.MinLon && p.Lon <= e.MaxLon && p.Lat >= e.MinLat && p.Lat <= e.MaxLat
}

// IsValid checks if the extent has valid dimensions.
func (e Extent) IsValid() bool {
	return e.MinLon <= e.MaxLon && e.MinLat <= e.MaxLat
}

// Center returns the center point of the extent.
func (e Extent) Center() Point {
	return Point{
		Lon: (e.MinLon + e.MaxLon) / 2,
		Lat: (e.MinLat + e.MaxLat) / 2,
	}
}
