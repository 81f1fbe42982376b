package domain

import (
	"math"
	"time"
)

// DatasetMetadata describes a built dataset.
type DatasetMetadata struct {
	Name     string            `json:"name"`
	Sources  []string          `json:"sources,omitempty"`
	BuiltAt  time.Time         `json:"built_at"`
	Extent   *Extent           `json:"extent,omitempty"`
	Skipped  int               `json:"skipped,omitempty"` // Malformed geometries dropped at build time
	Custom   map[string]string `json:"custom,omitempty"`
	Checksum string            `json:"checksum,omitempty"`
}

// GetCustom returns a custom metadata value.
func (m *DatasetMetadata) GetCustom(key string) (string, bool) {
	if m.Custom == nil {
		return "", false
	}
	v, ok := m.Custom[key]
	return v, ok
}

// DatasetStatus represents the lifecycle state of the active dataset.
type DatasetStatus string

const (
	StatusEmpty      DatasetStatus = "empty"
	StatusBuilding   DatasetStatus = "building"
	StatusPersisting DatasetStatus = "persisting"
	StatusReady      DatasetStatus = "ready"
	StatusError      DatasetStatus = "error"
)

// RadiusQuery represents a "features within radius" request.
type RadiusQuery struct {
	Center       Point   // Reference point
	RadiusMeters float64 // Search radius
	Limit        int     // Maximum features to return (0 = unlimited)
}

// Validate checks the query parameters.
func (q RadiusQuery) Validate() error {
	if err := q.Center.Validate(); err != nil {
		return err
	}
	if math.IsNaN(q.RadiusMeters) || math.IsInf(q.RadiusMeters, 0) {
		return &ValidationError{
			Field:      "radius",
			Value:      q.RadiusMeters,
			Constraint: "finite",
			Message:    "radius must be a finite number",
		}
	}
	if q.RadiusMeters < 0 {
		return &ValidationError{
			Field:      "radius",
			Value:      q.RadiusMeters,
			Constraint: ">= 0",
			Message:    "radius must not be negative",
		}
	}
	if q.Limit < 0 {
		return &ValidationError{
			Field:      "limit",
			Value:      q.Limit,
			Constraint: ">= 0",
			Message:    "limit must not be negative",
		}
	}
	return nil
}

// QueryResult represents the result of a radius query.
type QueryResult struct {
	Features  []Feature     // Matching features, order unspecified
	Truncated bool          // Limit was reached
	Lazy      bool          // Served from the chunk cache
	QueryTime time.Duration // Query execution time
}

// FeatureCount returns the number of features in the result.
func (r *QueryResult) FeatureCount() int {
	return len(r.Features)
}

// HasFeatures returns true if features were found.
func (r *QueryResult) HasFeatures() bool {
	return len(r.Features) > 0
}
