// Package tiles parses GeoJSON source tiles into feature groups.
package tiles

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// maxTileSize caps the bytes read from one tile.
const maxTileSize = 256 << 20

// ParseTile decodes a GeoJSON FeatureCollection into a source group.
// Point features are kept; other geometries are counted in skipped.
func ParseTile(label string, r io.Reader) (domain.SourceGroup, int, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxTileSize))
	if err != nil {
		return domain.SourceGroup{}, 0, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return domain.SourceGroup{}, 0, &domain.BuildError{Source: label, Index: -1, Err: err}
	}

	group := domain.SourceGroup{Label: label, Features: make([]domain.Feature, 0, len(fc.Features))}
	skipped := 0
	for _, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			skipped++
			continue
		}
		group.Features = append(group.Features, domain.Feature{
			Geometry:   domain.NewPoint(pt.Lon(), pt.Lat()),
			Properties: map[string]interface{}(f.Properties),
		})
	}
	return group, skipped, nil
}

// Loader reads every tile from object storage and parses them in parallel.
type Loader struct {
	storage     output.ObjectStorage
	logger      *slog.Logger
	concurrency int
}

// NewLoader creates a tile loader. concurrency <= 0 uses GOMAXPROCS.
func NewLoader(storage output.ObjectStorage, logger *slog.Logger, concurrency int) *Loader {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Loader{storage: storage, logger: logger, concurrency: concurrency}
}

// LoadSources implements output.SourceLoader. Groups are returned in tile
// key order; a tile that fails to parse is logged and yields an empty
// group, while a storage failure aborts the load.
func (l *Loader) LoadSources(ctx context.Context) ([]domain.SourceGroup, error) {
	objects, err := l.storage.List(ctx)
	if err != nil {
		return nil, err
	}

	groups := make([]domain.SourceGroup, len(objects))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for i, obj := range objects {
		g.Go(func() error {
			label := output.TileLabel(obj.Key)

			r, err := l.storage.GetReader(ctx, obj.Key)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			group, skipped, err := ParseTile(label, r)
			if err != nil {
				l.logger.Warn("skipping unreadable tile", "tile", obj.Key, "error", err)
				groups[i] = domain.SourceGroup{Label: label}
				return nil
			}
			if skipped > 0 {
				l.logger.Debug("ignored non-point geometries", "tile", obj.Key, "count", skipped)
			}
			groups[i] = group
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading tiles: %w", err)
	}

	l.logger.Info("tiles loaded", "tiles", len(objects))
	return groups, nil
}

var _ output.SourceLoader = (*Loader)(nil)
