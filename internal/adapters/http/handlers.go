package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vrabczak/BuildingRadar/internal/application"
	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/input"
)

// QueryParams represents the parameters of a radius query.
type QueryParams struct {
	Lon        float64
	Lat        float64
	Radius     float64
	Limit      int
	Properties []string
}

// handleQuery returns the features within a radius of a point.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	resp, err := s.services.Query.QueryRadius(ctx, input.QueryRequest{
		Query: domain.RadiusQuery{
			Center:       domain.NewPoint(params.Lon, params.Lat),
			RadiusMeters: params.Radius,
			Limit:        params.Limit,
		},
		Properties: params.Properties,
	})
	if err != nil {
		s.handleQueryError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, formatQueryResponse(resp))
}

// handleDataset returns the dataset lifecycle state.
func (s *Server) handleDataset(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.services.Datasets.Status())
}

// handleClearDataset removes the persisted dataset and drops it from memory.
func (s *Server) handleClearDataset(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Datasets.Clear(r.Context()); err != nil {
		s.logger.Error("clearing dataset failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to clear dataset")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCache returns chunk cache statistics.
func (s *Server) handleCache(w http.ResponseWriter, _ *http.Request) {
	stats, ok := s.services.Engine.CacheStats()
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"stats":   stats,
	})
}

// handleReload rebuilds the dataset from its source.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Sync.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("reload failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Reload failed: "+err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.services.Health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":     boolToStatus(details.Healthy),
		"ready":      details.Ready,
		"dataset":    details.Status,
		"lazy":       details.Lazy,
		"features":   details.Features,
		"chunks":     details.Chunks,
		"resident":   details.Resident,
		"components": details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

func parseFloatParam(q url.Values, name string, required bool) (float64, error) {
	raw := q.Get(name)
	if raw == "" {
		if required {
			return 0, errors.New("missing " + name + " parameter")
		}
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("invalid " + name + " parameter")
	}
	return v, nil
}

// parseQueryParams parses query parameters from the request.
func parseQueryParams(r *http.Request) (*QueryParams, error) {
	q := r.URL.Query()
	params := &QueryParams{}

	var err error
	if params.Lon, err = parseFloatParam(q, "lon", true); err != nil {
		return nil, err
	}
	if params.Lat, err = parseFloatParam(q, "lat", true); err != nil {
		return nil, err
	}
	if params.Radius, err = parseFloatParam(q, "radius", true); err != nil {
		return nil, err
	}

	if limit := q.Get("limit"); limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil {
			return nil, errors.New("invalid limit parameter")
		}
		params.Limit = v
	}

	if props := q.Get("properties"); props != "" {
		for _, p := range strings.Split(props, ",") {
			if p = strings.TrimSpace(p); p != "" {
				params.Properties = append(params.Properties, p)
			}
		}
	}

	return params, nil
}

// formatQueryResponse formats the query response for JSON output.
func formatQueryResponse(resp *input.QueryResponse) map[string]interface{} {
	result := resp.Result
	features := make([]map[string]interface{}, len(result.Features))
	for i := range result.Features {
		f := &result.Features[i]
		features[i] = map[string]interface{}{
			"geometry":        f.Geometry,
			"distance_meters": resp.Center.DistanceMeters(f.Geometry),
			"properties":      f.Properties,
		}
	}

	return map[string]interface{}{
		"center":        resp.Center,
		"radius_meters": resp.RadiusMeters,
		"features":      features,
		"feature_count": result.FeatureCount(),
		"truncated":     result.Truncated,
		"lazy":          result.Lazy,
		"query_time_ms": result.QueryTime.Milliseconds(),
	}
}

// handleQueryError handles query errors and returns appropriate HTTP status.
func (s *Server) handleQueryError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotReady):
		s.writeError(w, http.StatusServiceUnavailable, "No dataset loaded")
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "Query timed out")
	default:
		s.logger.Error("query error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Query failed")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
