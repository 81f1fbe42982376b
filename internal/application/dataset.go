package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vrabczak/BuildingRadar/internal/chunkcache"
	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/persistence"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// DatasetConfig holds dataset service configuration.
type DatasetConfig struct {
	Name  string           // Dataset name stored in the metadata
	Hints chunkcache.Hints // Cache sizing for lazy mode
	Eager bool             // Keep features resident after a build instead of going lazy
}

// ReloadResult summarizes one build and persist cycle.
type ReloadResult struct {
	Features  int           `json:"features"`
	Chunks    int           `json:"chunks"`
	Skipped   int           `json:"skipped"`
	Bytes     int64         `json:"bytes"`
	Capacity  int           `json:"capacity,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// DatasetStatusInfo reports the dataset lifecycle state.
type DatasetStatusInfo struct {
	Status    domain.DatasetStatus `json:"status"`
	Error     string               `json:"error,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
	Dataset   DatasetInfo          `json:"dataset"`
}

// DatasetService loads source tiles, builds and persists the dataset and
// moves the engine into lazy mode.
type DatasetService struct {
	engine *Engine
	loader output.SourceLoader
	logger *slog.Logger
	cfg    DatasetConfig

	opMu sync.Mutex // serializes builds

	mu        sync.RWMutex
	status    domain.DatasetStatus
	lastErr   error
	updatedAt time.Time
}

// NewDatasetService creates a new dataset service.
func NewDatasetService(engine *Engine, loader output.SourceLoader, logger *slog.Logger, cfg DatasetConfig) *DatasetService {
	return &DatasetService{
		engine:    engine,
		loader:    loader,
		logger:    logger,
		cfg:       cfg,
		status:    domain.StatusEmpty,
		updatedAt: time.Now(),
	}
}

func (s *DatasetService) setStatus(status domain.DatasetStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.lastErr = err
	s.updatedAt = time.Now()
}

// Status returns the current lifecycle state.
func (s *DatasetService) Status() DatasetStatusInfo {
	s.mu.RLock()
	info := DatasetStatusInfo{Status: s.status, UpdatedAt: s.updatedAt}
	if s.lastErr != nil {
		info.Error = s.lastErr.Error()
	}
	s.mu.RUnlock()

	info.Dataset = s.engine.Info()
	return info
}

// Startup restores the persisted dataset when one exists and builds from
// the tile source otherwise.
func (s *DatasetService) Startup(ctx context.Context) error {
	s.opMu.Lock()
	restored, err := s.restore(ctx)
	s.opMu.Unlock()

	if err != nil {
		s.logger.Warn("restore failed, rebuilding from source", "error", err)
	}
	if restored {
		return nil
	}

	_, err = s.Reload(ctx)
	return err
}

func (s *DatasetService) restore(ctx context.Context) (bool, error) {
	res, found, err := s.engine.Restore(ctx)
	if err != nil || !found {
		return false, err
	}

	capacity, err := s.engine.EnableLazyMode(nil, s.cfg.Hints)
	if err != nil {
		return false, err
	}

	s.setStatus(domain.StatusReady, nil)
	s.logger.Info("serving restored dataset",
		"name", res.Metadata.Name,
		"chunks", res.ChunkCount,
		"capacity", capacity,
	)
	return true, nil
}

// Reload rebuilds the dataset from the tile source, persists it and, unless
// configured eager, switches the engine to lazy mode. A failed persist
// leaves the freshly built dataset serving in eager mode.
func (s *DatasetService) Reload(ctx context.Context) (ReloadResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	start := time.Now()
	s.setStatus(domain.StatusBuilding, nil)

	groups, err := s.loader.LoadSources(ctx)
	if err != nil {
		err = fmt.Errorf("loading sources: %w", err)
		s.setStatus(domain.StatusError, err)
		return ReloadResult{}, err
	}

	built, err := s.engine.Build(groups)
	if err != nil {
		s.setStatus(domain.StatusError, err)
		return ReloadResult{}, err
	}

	result := ReloadResult{
		Features:  built.Index.FeatureCount,
		Chunks:    built.Index.ChunkCount(),
		Skipped:   built.Skipped,
		CreatedAt: time.Now().UTC(),
	}

	s.setStatus(domain.StatusPersisting, nil)
	bytes, err := s.persist(ctx)
	if err != nil {
		s.setStatus(domain.StatusError, err)
		return result, err
	}
	result.Bytes = bytes

	if !s.cfg.Eager {
		capacity, err := s.engine.EnableLazyMode(nil, s.cfg.Hints)
		if err != nil {
			s.setStatus(domain.StatusError, err)
			return result, err
		}
		result.Capacity = capacity
	}

	result.Duration = time.Since(start)
	s.setStatus(domain.StatusReady, nil)
	s.logger.Info("dataset reloaded",
		"features", humanize.Comma(int64(result.Features)),
		"chunks", result.Chunks,
		"size", humanize.Bytes(uint64(result.Bytes)),
		"duration", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

func (s *DatasetService) persist(ctx context.Context) (int64, error) {
	var bytes int64
	for ev, err := range s.engine.Persist(ctx, domain.DatasetMetadata{Name: s.cfg.Name}) {
		if err != nil {
			return bytes, err
		}
		switch ev.Kind {
		case persistence.EventBatchWritten:
			s.logger.Debug("persist progress",
				"written", ev.Written,
				"total", ev.Total,
				"size", humanize.Bytes(uint64(ev.Bytes)),
			)
		case persistence.EventFinalized:
			bytes = ev.Bytes
		}
	}
	return bytes, nil
}

// Clear removes the persisted and in-memory dataset.
func (s *DatasetService) Clear(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.engine.Clear(ctx); err != nil {
		return err
	}
	s.setStatus(domain.StatusEmpty, nil)
	return nil
}
