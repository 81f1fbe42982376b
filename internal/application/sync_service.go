// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRateLimited is returned when the reload API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// apiCooldown is the minimum time between API triggered reloads.
const apiCooldown = 30 * time.Second

// Reloader rebuilds the dataset from its source.
type Reloader interface {
	Reload(ctx context.Context) (ReloadResult, error)
}

// SyncResult contains the result of a reload triggered through the API.
type SyncResult struct {
	ReloadResult
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncService rebuilds the dataset on a fixed interval and on demand.
type SyncService struct {
	reloader Reloader
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	lastAPISync time.Time
	apiMutex    sync.Mutex

	nextSync time.Time
	syncMu   sync.RWMutex
}

// NewSyncService creates a new sync service.
func NewSyncService(reloader Reloader, interval time.Duration, logger *slog.Logger) *SyncService {
	return &SyncService{
		reloader: reloader,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		// allow an immediate first API call
		lastAPISync: time.Now().Add(-apiCooldown - time.Second),
	}
}

// Start begins the periodic reload scheduler. A zero interval disables
// scheduled reloads; TriggerSync still works.
func (s *SyncService) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextSync(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled reload triggered")
			if _, err := s.reloader.Reload(ctx); err != nil {
				s.logger.Error("scheduled reload failed", "error", err)
			}
			s.setNextSync(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the sync service. It is safe to call once.
func (s *SyncService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerSync reloads the dataset now. It returns ErrRateLimited when the
// previous API reload was less than 30 seconds ago.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	if time.Since(s.lastAPISync) < apiCooldown {
		return SyncResult{}, ErrRateLimited
	}
	s.lastAPISync = time.Now()

	res, err := s.reloader.Reload(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{ReloadResult: res, NextScheduledAt: s.getNextSync()}, nil
}

func (s *SyncService) setNextSync(t time.Time) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.nextSync = t
}

func (s *SyncService) getNextSync() time.Time {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()
	return s.nextSync
}

// Interval returns the reload interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
