package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFsnotifyOpToOperation(t *testing.T) {
	tests := []struct {
		name     string
		op       fsnotify.Op
		expected Operation
	}{
		{"remove", fsnotify.Remove, OpDelete},
		{"rename", fsnotify.Rename, OpDelete},
		{"create", fsnotify.Create, OpCreate},
		{"write", fsnotify.Write, OpModify},
		{"chmod", fsnotify.Chmod, OpModify},
		{"remove over write", fsnotify.Remove | fsnotify.Write, OpDelete},
		{"rename over create", fsnotify.Rename | fsnotify.Create, OpDelete},
		{"create over write", fsnotify.Create | fsnotify.Write, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fsnotifyOpToOperation(tt.op); got != tt.expected {
				t.Errorf("fsnotifyOpToOperation(%v) = %v, want %v", tt.op, got, tt.expected)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	tests := map[Operation]string{
		OpCreate:      "create",
		OpModify:      "modify",
		OpDelete:      "delete",
		Operation(99): "unknown",
	}
	for op, want := range tests {
		if got := op.String(); got != want {
			t.Errorf("Operation(%d).String() = %q, want %q", int(op), got, want)
		}
	}
}

func TestMergeOperations(t *testing.T) {
	tests := []struct {
		existing, next, want Operation
	}{
		{OpCreate, OpModify, OpCreate},
		{OpCreate, OpDelete, OpDelete},
		{OpModify, OpModify, OpModify},
		{OpModify, OpDelete, OpDelete},
		{OpDelete, OpCreate, OpModify},
		{OpDelete, OpModify, OpModify},
	}
	for _, tt := range tests {
		if got := mergeOperations(tt.existing, tt.next); got != tt.want {
			t.Errorf("mergeOperations(%v, %v) = %v, want %v", tt.existing, tt.next, got, tt.want)
		}
	}
}

func TestFlushBatchesQuietChanges(t *testing.T) {
	var calls [][]Event
	handler := func(_ context.Context, events []Event) error {
		calls = append(calls, events)
		return nil
	}

	w, err := New(Config{Debounce: time.Second}, handler, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Stop()

	base := time.Now()
	w.record("/tiles/b.geojson", OpCreate, base)
	w.record("/tiles/a.geojson", OpModify, base)
	w.record("/tiles/b.geojson", OpModify, base.Add(500*time.Millisecond))

	ctx := context.Background()

	// Still inside the debounce window of the last event.
	w.flush(ctx, base.Add(time.Second))
	if len(calls) != 0 {
		t.Fatalf("handler called %d times before the quiet period ended", len(calls))
	}

	w.flush(ctx, base.Add(1500*time.Millisecond))
	want := [][]Event{{
		{Path: "/tiles/a.geojson", Operation: OpModify},
		{Path: "/tiles/b.geojson", Operation: OpCreate},
	}}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("handler calls mismatch (-want +got):\n%s", diff)
	}

	// Nothing pending, nothing to do.
	w.flush(ctx, base.Add(time.Hour))
	if len(calls) != 1 {
		t.Errorf("handler called %d times, want 1", len(calls))
	}
}

func TestWatcherDetectsTileChanges(t *testing.T) {
	dir := t.TempDir()

	got := make(chan []Event, 4)
	handler := func(_ context.Context, events []Event) error {
		got <- events
		return nil
	}

	w, err := New(Config{
		Paths:    []string{dir},
		Debounce: 50 * time.Millisecond,
		Filter:   func(p string) bool { return strings.HasSuffix(p, ".geojson") },
	}, handler, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatal(err)
	}
	tile := filepath.Join(dir, "N50E014.geojson")
	if err := os.WriteFile(tile, []byte(`{"type":"FeatureCollection","features":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case events := <-got:
		if len(events) != 1 || events[0].Path != tile {
			t.Errorf("events = %+v, want one event for %s", events, tile)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestStopWithoutStart(t *testing.T) {
	w, err := New(Config{}, func(context.Context, []Event) error { return nil }, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
