package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/input"
)

// QueryService serves radius queries from the engine and applies the
// response shaping rules of the API.
type QueryService struct {
	engine      *Engine
	logger      *slog.Logger
	maxFeatures int
	maxRadius   float64
}

// QueryServiceConfig holds configuration for the query service.
type QueryServiceConfig struct {
	MaxFeatures int
	MaxRadius   float64 // meters, 0 = unbounded
}

// NewQueryService creates a new query service.
func NewQueryService(engine *Engine, logger *slog.Logger, cfg QueryServiceConfig) *QueryService {
	if cfg.MaxFeatures == 0 {
		cfg.MaxFeatures = 1000
	}

	return &QueryService{
		engine:      engine,
		logger:      logger,
		maxFeatures: cfg.MaxFeatures,
		maxRadius:   cfg.MaxRadius,
	}
}

// QueryRadius implements input.QueryService. The request limit is capped at
// the configured maximum.
func (s *QueryService) QueryRadius(ctx context.Context, req input.QueryRequest) (*input.QueryResponse, error) {
	q := req.Query
	if s.maxRadius > 0 && q.RadiusMeters > s.maxRadius {
		return nil, &domain.ValidationError{
			Field:      "radius",
			Value:      q.RadiusMeters,
			Constraint: fmt.Sprintf("<= %g", s.maxRadius),
			Message:    fmt.Sprintf("radius must not exceed %g meters", s.maxRadius),
		}
	}
	if q.Limit == 0 || q.Limit > s.maxFeatures {
		q.Limit = s.maxFeatures
	}

	result, err := s.engine.Query(ctx, q)
	if err != nil {
		s.logger.Debug("radius query failed", "center", q.Center, "radius", q.RadiusMeters, "error", err)
		return nil, err
	}

	if len(req.Properties) > 0 {
		filterProperties(result.Features, req.Properties)
	}

	return &input.QueryResponse{
		Center:       q.Center,
		RadiusMeters: q.RadiusMeters,
		Result:       result,
	}, nil
}

// filterProperties keeps only the requested property keys.
func filterProperties(features []domain.Feature, properties []string) {
	keys := make(map[string]struct{}, len(properties))
	for _, p := range properties {
		keys[p] = struct{}{}
	}
	for i := range features {
		features[i] = features[i].Project(keys)
	}
}

var _ input.QueryService = (*QueryService)(nil)
