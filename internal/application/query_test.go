package application

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/input"
)

func newTestQueryService(t *testing.T, maxFeatures int) *QueryService {
	t.Helper()
	client, _ := startStore(t)
	engine := newTestEngine(client, false)

	group := pragueGroup()
	for i := range group.Features {
		group.Features[i].Properties["levels"] = i + 1
	}
	if _, err := engine.Build([]domain.SourceGroup{group}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return NewQueryService(engine, testLogger(), QueryServiceConfig{MaxFeatures: maxFeatures})
}

func radiusRequest(radius float64, limit int, props ...string) input.QueryRequest {
	return input.QueryRequest{
		Query: domain.RadiusQuery{
			Center:       domain.NewPoint(14.42, 50.08),
			RadiusMeters: radius,
			Limit:        limit,
		},
		Properties: props,
	}
}

func TestQueryServiceDefaultConfig(t *testing.T) {
	svc := NewQueryService(nil, testLogger(), QueryServiceConfig{})
	if svc.maxFeatures != 1000 {
		t.Errorf("maxFeatures = %d, want 1000", svc.maxFeatures)
	}
}

func TestQueryServiceLimits(t *testing.T) {
	tests := []struct {
		name          string
		maxFeatures   int
		limit         int
		wantCount     int
		wantTruncated bool
	}{
		{"under max", 10, 0, 3, false},
		{"request limit", 10, 2, 2, true},
		{"capped by max", 1, 5, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestQueryService(t, tt.maxFeatures)

			resp, err := svc.QueryRadius(context.Background(), radiusRequest(300, tt.limit))
			if err != nil {
				t.Fatalf("QueryRadius() error = %v", err)
			}
			if got := resp.Result.FeatureCount(); got != tt.wantCount {
				t.Errorf("FeatureCount() = %d, want %d", got, tt.wantCount)
			}
			if resp.Result.Truncated != tt.wantTruncated {
				t.Errorf("Truncated = %v, want %v", resp.Result.Truncated, tt.wantTruncated)
			}
			if resp.RadiusMeters != 300 {
				t.Errorf("RadiusMeters = %v, want 300", resp.RadiusMeters)
			}
		})
	}
}

func TestQueryServiceFilterProperties(t *testing.T) {
	svc := newTestQueryService(t, 10)

	resp, err := svc.QueryRadius(context.Background(), radiusRequest(10, 0, "levels"))
	if err != nil {
		t.Fatalf("QueryRadius() error = %v", err)
	}
	if resp.Result.FeatureCount() != 1 {
		t.Fatalf("FeatureCount() = %d, want 1", resp.Result.FeatureCount())
	}

	want := map[string]interface{}{"levels": 1}
	if diff := cmp.Diff(want, resp.Result.Features[0].Properties); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}

	// The dataset itself keeps every property.
	resp, err = svc.QueryRadius(context.Background(), radiusRequest(10, 0))
	if err != nil {
		t.Fatalf("QueryRadius() error = %v", err)
	}
	if got := resp.Result.Features[0].GetStringProperty("name"); got != "a1" {
		t.Errorf("name = %q, want a1", got)
	}
}

func TestQueryServiceInvalidRequest(t *testing.T) {
	svc := newTestQueryService(t, 10)

	_, err := svc.QueryRadius(context.Background(), radiusRequest(-5, 0))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("QueryRadius() error = %v, want ErrInvalidInput", err)
	}
}

func TestQueryServiceMaxRadius(t *testing.T) {
	client, _ := startStore(t)
	engine := newTestEngine(client, false)
	if _, err := engine.Build([]domain.SourceGroup{pragueGroup()}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	svc := NewQueryService(engine, testLogger(), QueryServiceConfig{MaxRadius: 100})

	if _, err := svc.QueryRadius(context.Background(), radiusRequest(100, 0)); err != nil {
		t.Errorf("QueryRadius() at the maximum error = %v", err)
	}

	_, err := svc.QueryRadius(context.Background(), radiusRequest(101, 0))
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != "radius" {
		t.Errorf("QueryRadius() error = %v, want radius ValidationError", err)
	}
}
