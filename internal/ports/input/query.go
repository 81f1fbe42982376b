// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/vrabczak/BuildingRadar/internal/domain"
)

// QueryService defines the primary port for radius queries.
type QueryService interface {
	// QueryRadius returns the features within the query radius.
	QueryRadius(ctx context.Context, req QueryRequest) (*QueryResponse, error)
}

// QueryRequest is a radius query as received from a client.
type QueryRequest struct {
	Query      domain.RadiusQuery
	Properties []string // Property keys to keep, all when empty
}

// QueryResponse is a radius query result ready for rendering.
type QueryResponse struct {
	Center       domain.Point
	RadiusMeters float64
	Result       *domain.QueryResult
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy    bool              // Overall health status
	Ready      bool              // Ready to accept requests
	Status     string            // Dataset lifecycle state
	Lazy       bool              // Queries served from the chunk cache
	Features   int               // Indexed features
	Chunks     int               // Dataset chunks
	Resident   int               // Chunks currently resident
	Components map[string]string // Component statuses
}
