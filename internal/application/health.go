package application

import (
	"context"

	"github.com/vrabczak/BuildingRadar/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	engine   *Engine
	datasets *DatasetService
}

// NewHealthService creates a new health service.
func NewHealthService(engine *Engine, datasets *DatasetService) *HealthService {
	return &HealthService{
		engine:   engine,
		datasets: datasets,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true once a dataset can serve queries.
func (s *HealthService) IsReady(_ context.Context) bool {
	return s.engine.Ready()
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	status := s.datasets.Status()

	details := input.HealthDetails{
		Healthy:  s.IsHealthy(ctx),
		Ready:    s.IsReady(ctx),
		Status:   string(status.Status),
		Lazy:     status.Dataset.Lazy,
		Features: status.Dataset.FeatureCount,
		Chunks:   status.Dataset.ChunkCount,
		Components: map[string]string{
			"dataset": string(status.Status),
			"cache":   "disabled",
		},
	}

	if stats, ok := s.engine.CacheStats(); ok {
		details.Resident = stats.Resident
		details.Components["cache"] = "ok"
	}
	if status.Error != "" {
		details.Components["dataset"] = "error: " + status.Error
	}

	return details
}

var _ input.HealthChecker = (*HealthService)(nil)
