package persistence

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vrabczak/BuildingRadar/internal/domain"
)

func TestChunkKey(t *testing.T) {
	tests := []struct {
		key     string
		want    int
		wantErr bool
	}{
		{"chunk/0", 0, false},
		{"chunk/42", 42, false},
		{"chunk/", 0, true},
		{"chunk/x", 0, true},
		{"index", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := ParseChunkKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseChunkKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("error should wrap ErrInvalidInput, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseChunkKey(%q) = %d, want %d", tt.key, got, tt.want)
			}
		})
	}

	if got := ChunkKey(7); got != "chunk/7" {
		t.Errorf("ChunkKey(7) = %q", got)
	}
}

func TestCodecChunkCompressed(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	defer codec.Close()

	features := make([]domain.Feature, 200)
	for i := range features {
		features[i] = domain.Feature{
			Geometry:   domain.NewPoint(14.4+float64(i)*0.001, 50.1),
			Properties: map[string]interface{}{"kind": "building", "levels": float64(i % 5)},
		}
	}
	rec := &domain.ChunkRecord{ChunkID: 3, Features: features}

	data, err := codec.EncodeChunk(rec)
	if err != nil {
		t.Fatalf("EncodeChunk() error = %v", err)
	}

	got, err := codec.DecodeChunk(data)
	if err != nil {
		t.Fatalf("DecodeChunk() error = %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("chunk mismatch (-want +got):\n%s", diff)
	}

	if _, err := codec.DecodeChunk([]byte("not zstd")); err == nil {
		t.Error("DecodeChunk() on garbage should fail")
	}
}

func TestCodecIndexKeepsCellKeys(t *testing.T) {
	codec, _ := NewCodec()
	defer codec.Close()

	rec := &domain.IndexRecord{
		CellSize:        0.01,
		Grid:            map[domain.CellKey][]int{{X: -3, Y: 7}: {0, 1}},
		FeatureCount:    2,
		ChunkMetadata:   map[domain.CellKey][]int{{X: -3, Y: 7}: {0}},
		ChunkBoundaries: []domain.ChunkBoundary{{Start: 0, End: 2, SourceLabel: "N07W001"}},
	}

	data, err := codec.EncodeIndex(rec)
	if err != nil {
		t.Fatalf("EncodeIndex() error = %v", err)
	}
	got, err := codec.DecodeIndex(data)
	if err != nil {
		t.Fatalf("DecodeIndex() error = %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("index mismatch (-want +got):\n%s", diff)
	}
}
