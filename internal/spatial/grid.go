// Package spatial provides the grid index and the tile-aligned chunk
// partitioner used to answer radius queries.
package spatial

import (
	"fmt"
	"math"
	"sort"

	"github.com/vrabczak/BuildingRadar/internal/domain"
)

// maxLatForWidening caps the longitude widening near the poles.
const maxLatForWidening = 89.0

// maxSpanDegrees bounds the search span on each side of the center cell.
const maxSpanDegrees = 360.0

// Grid maps fixed-size lon/lat cells to the global indices of the features
// that fall in them. Grid is not safe for concurrent mutation; once built it
// is only read.
type Grid struct {
	cellSize     float64
	cells        map[domain.CellKey][]int
	featureCount int
}

// NewGrid creates an empty grid with the given cell size in degrees.
func NewGrid(cellSize float64) (*Grid, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, domain.ErrInvalidCellSize
	}
	return &Grid{
		cellSize: cellSize,
		cells:    make(map[domain.CellKey][]int),
	}, nil
}

// RestoreGrid rebuilds a grid from persisted cells. Every cell index must
// lie in [0, featureCount).
func RestoreGrid(cellSize float64, cells map[domain.CellKey][]int, featureCount int) (*Grid, error) {
	g, err := NewGrid(cellSize)
	if err != nil {
		return nil, err
	}
	for key, indices := range cells {
		for _, i := range indices {
			if i < 0 || i >= featureCount {
				return nil, fmt.Errorf("cell %s holds index %d outside %d features: %w",
					key, i, featureCount, domain.ErrInvalidInput)
			}
		}
	}
	if cells != nil {
		g.cells = cells
	}
	g.featureCount = featureCount
	return g, nil
}

// CellSize returns the cell size in degrees.
func (g *Grid) CellSize() float64 {
	return g.cellSize
}

// FeatureCount returns the number of indexed features.
func (g *Grid) FeatureCount() int {
	return g.featureCount
}

// Len returns the number of populated cells.
func (g *Grid) Len() int {
	return len(g.cells)
}

// KeyFor returns the cell containing (lon, lat).
func (g *Grid) KeyFor(lon, lat float64) domain.CellKey {
	return domain.CellKey{
		X: int32(math.Floor(lon / g.cellSize)),
		Y: int32(math.Floor(lat / g.cellSize)),
	}
}

// IndexAll replaces the grid content with the given features. Feature i is
// stored under global index i.
func (g *Grid) IndexAll(features []domain.Feature) {
	g.cells = make(map[domain.CellKey][]int)
	for i := range features {
		p := features[i].Geometry
		key := g.KeyFor(p.Lon, p.Lat)
		g.cells[key] = append(g.cells[key], i)
	}
	g.featureCount = len(features)
}

// Cell returns the global indices stored in a cell.
func (g *Grid) Cell(key domain.CellKey) []int {
	return g.cells[key]
}

// Cells returns the underlying cell map. Callers must not modify it.
func (g *Grid) Cells() map[domain.CellKey][]int {
	return g.cells
}

// Keys returns every populated cell key in a stable order.
func (g *Grid) Keys() []domain.CellKey {
	keys := make([]domain.CellKey, 0, len(g.cells))
	for k := range g.cells {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// CellsInRadius returns the populated cells whose area may contain a point
// within radiusMeters of (lon, lat). The result is a square superset of the
// circle; callers filter candidates by exact distance.
func (g *Grid) CellsInRadius(lon, lat, radiusMeters float64) []domain.CellKey {
	nx, ny := g.span(lat, radiusMeters)
	return g.collect(g.KeyFor(lon, lat), nx, ny, nil)
}

// RingAround returns the populated cells of the one-cell-wide ring just
// outside the square returned by CellsInRadius.
func (g *Grid) RingAround(lon, lat, radiusMeters float64) []domain.CellKey {
	nx, ny := g.span(lat, radiusMeters)
	inner := func(k domain.CellKey, c domain.CellKey) bool {
		return abs32(k.X-c.X) <= nx && abs32(k.Y-c.Y) <= ny
	}
	return g.collect(g.KeyFor(lon, lat), nx+1, ny+1, inner)
}

// span returns the number of cells to scan on each side of the center.
// Latitude uses radius/111320 degrees; longitude is widened by 1/cos(lat)
// so the square still covers the circle away from the equator. Neither
// side exceeds the whole globe; a NaN or infinite radius covers it all.
func (g *Grid) span(lat, radiusMeters float64) (int32, int32) {
	switch {
	case math.IsNaN(radiusMeters) || math.IsInf(radiusMeters, 1):
		radiusMeters = math.MaxFloat64
	case radiusMeters < 0:
		radiusMeters = 0
	}
	delta := math.Min(radiusMeters/domain.MetersPerDegree, maxSpanDegrees)
	ny := g.cellsFor(delta)

	clamped := math.Min(math.Abs(lat), maxLatForWidening)
	if math.IsNaN(clamped) {
		clamped = maxLatForWidening
	}
	lonDelta := math.Min(delta/math.Cos(clamped*math.Pi/180), maxSpanDegrees)
	nx := g.cellsFor(lonDelta)
	return nx, ny
}

// cellsFor converts a span in degrees to a whole number of cells, bounded
// so that span arithmetic cannot overflow int32.
func (g *Grid) cellsFor(degrees float64) int32 {
	return int32(math.Min(math.Ceil(degrees/g.cellSize), math.MaxInt32/4))
}

// collect enumerates populated cells within nx/ny of center. It walks
// whichever is smaller: the square of candidate keys or the populated cells.
func (g *Grid) collect(center domain.CellKey, nx, ny int32, exclude func(k, c domain.CellKey) bool) []domain.CellKey {
	var out []domain.CellKey
	square := (2*int64(nx) + 1) * (2*int64(ny) + 1)

	if square <= int64(len(g.cells)) {
		for dx := -nx; dx <= nx; dx++ {
			for dy := -ny; dy <= ny; dy++ {
				k := domain.CellKey{X: center.X + dx, Y: center.Y + dy}
				if _, ok := g.cells[k]; !ok {
					continue
				}
				if exclude != nil && exclude(k, center) {
					continue
				}
				out = append(out, k)
			}
		}
		return out
	}

	for k := range g.cells {
		if abs32(k.X-center.X) > nx || abs32(k.Y-center.Y) > ny {
			continue
		}
		if exclude != nil && exclude(k, center) {
			continue
		}
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func sortKeys(keys []domain.CellKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Y < keys[j].Y
	})
}
