// Package watcher rebuilds the dataset when source tiles change on disk.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is a debounced change to one file.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler receives every change collected during one quiet period. Calls
// never overlap; changes arriving meanwhile go to the next call.
type Handler func(ctx context.Context, events []Event) error

// Config holds watcher configuration.
type Config struct {
	Paths    []string
	Debounce time.Duration
	Filter   func(path string) bool // nil accepts every file
}

// Watcher watches source directories and batches tile changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	paths     []string
	debounce  time.Duration
	filter    func(string) bool

	mu       sync.Mutex
	pending  map[string]Operation
	lastSeen time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.Filter == nil {
		cfg.Filter = func(string) bool { return true }
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		paths:     cfg.Paths,
		debounce:  cfg.Debounce,
		filter:    cfg.Filter,
		pending:   make(map[string]Operation),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start starts watching the configured paths.
func (w *Watcher) Start(ctx context.Context) error {
	for _, path := range w.paths {
		if err := w.AddPath(path); err != nil {
			w.logger.Warn("failed to watch path", "path", path, "error", err)
		}
	}

	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher and waits for a running handler to return.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.filter(event.Name) {
				continue
			}
			w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())
			w.record(event.Name, fsnotifyOpToOperation(event.Op), time.Now())

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// record merges op into the pending change for path.
func (w *Watcher) record(path string, op Operation, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastSeen = at
	existing, ok := w.pending[path]
	if !ok {
		w.pending[path] = op
		return
	}
	w.pending[path] = mergeOperations(existing, op)
}

// mergeOperations folds a new operation into an earlier one for the same file.
func mergeOperations(existing, next Operation) Operation {
	switch {
	case existing == OpDelete && next == OpCreate:
		// replaced in place
		return OpModify
	case next == OpDelete:
		return OpDelete
	case existing == OpCreate:
		return OpCreate
	default:
		return next
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

// takeQuiet returns and clears the pending changes once no event has
// arrived for the debounce period.
func (w *Watcher) takeQuiet(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 || now.Sub(w.lastSeen) < w.debounce {
		return nil
	}

	events := make([]Event, 0, len(w.pending))
	for path, op := range w.pending {
		events = append(events, Event{Path: path, Operation: op})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	clear(w.pending)
	return events
}

// flush runs the handler synchronously for a quiet batch.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	events := w.takeQuiet(now)
	if len(events) == 0 {
		return
	}

	w.logger.Info("source files changed", "files", len(events))
	if err := w.handler(ctx, events); err != nil {
		w.logger.Error("handler error", "files", len(events), "error", err)
	}
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		// a renamed file is gone from the watched name
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

// AddPath adds a path to watch.
func (w *Watcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}

	w.logger.Info("watching directory", "path", absPath)
	return nil
}

// RemovePath removes a path from watching.
func (w *Watcher) RemovePath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if err := w.fsWatcher.Remove(absPath); err != nil {
		return err
	}

	w.logger.Info("removed watch path", "path", absPath)
	return nil
}
