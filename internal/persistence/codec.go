package persistence

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/vrabczak/BuildingRadar/internal/domain"
)

// Store keys.
const (
	IndexKey    = "index"
	ManifestKey = "manifest"
	ChunkPrefix = "chunk/"
)

// ChunkKey returns the store key of a chunk record.
func ChunkKey(id int) string {
	return ChunkPrefix + strconv.Itoa(id)
}

// ParseChunkKey extracts the chunk id from a chunk record key.
func ParseChunkKey(key string) (int, error) {
	if !strings.HasPrefix(key, ChunkPrefix) {
		return 0, fmt.Errorf("chunk key %q: %w", key, domain.ErrInvalidInput)
	}
	id, err := strconv.Atoi(strings.TrimPrefix(key, ChunkPrefix))
	if err != nil {
		return 0, fmt.Errorf("chunk key %q: %w", key, domain.ErrInvalidInput)
	}
	return id, nil
}

// Manifest marks a completed save.
type Manifest struct {
	ChunkCount   int    `json:"chunk_count"`
	FeatureCount int    `json:"feature_count"`
	SaveID       string `json:"save_id"`
}

// Codec encodes records for the store. Chunk payloads are JSON compressed
// with zstd; the index record and manifest are plain JSON so they stay
// readable with generic tooling.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a codec. A Codec is safe for concurrent use.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// EncodeChunk serializes a chunk record.
func (c *Codec) EncodeChunk(rec *domain.ChunkRecord) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding chunk %d: %w", rec.ChunkID, err)
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// DecodeChunk deserializes a chunk record.
func (c *Codec) DecodeChunk(data []byte) (*domain.ChunkRecord, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk: %w", err)
	}
	var rec domain.ChunkRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding chunk: %w", err)
	}
	return &rec, nil
}

// EncodeIndex serializes the index record.
func (c *Codec) EncodeIndex(rec *domain.IndexRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding index: %w", err)
	}
	return data, nil
}

// DecodeIndex deserializes the index record.
func (c *Codec) DecodeIndex(data []byte) (*domain.IndexRecord, error) {
	var rec domain.IndexRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return &rec, nil
}

// EncodeManifest serializes the manifest.
func (c *Codec) EncodeManifest(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeManifest deserializes the manifest.
func (c *Codec) DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// Close releases the decoder.
func (c *Codec) Close() {
	c.dec.Close()
	_ = c.enc.Close()
}
