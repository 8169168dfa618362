// Package config loads the YAML configuration of a gojospatial process and
// builds the index it describes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"github.com/sushant-115/gojospatial/core/indexing/spatial/qtree"
	"github.com/sushant-115/gojospatial/core/indexing/spatial/rtree"
	"github.com/sushant-115/gojospatial/pkg/logger"
	"github.com/sushant-115/gojospatial/pkg/telemetry"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Index kinds.
const (
	KindRTree = "rtree"
	KindQTree = "qtree"
)

// DefaultSnapshotChunkSize is the chunk size used when streaming snapshots.
const DefaultSnapshotChunkSize = 4 * 1024

// ErrUnknownIndexKind is returned for an index kind other than KindRTree or
// KindQTree.
var ErrUnknownIndexKind = errors.New("unknown index kind")

// IndexConfig describes the index to build.
type IndexConfig struct {
	Kind string `yaml:"kind"`
	// RootEnvelope is [xmin, ymin, xmax, ymax].
	RootEnvelope []float64 `yaml:"root_envelope"`
	// Fanout is the maximum entries per R-tree node. Zero selects the default.
	Fanout int `yaml:"fanout"`
	// Capacity is the quadtree leaf capacity. Zero selects the default.
	Capacity int `yaml:"capacity"`
}

// Envelope returns the root envelope. It assumes a validated config.
func (c IndexConfig) Envelope() spatial.Envelope {
	return spatial.EnvelopeFromArray([4]float64(c.RootEnvelope))
}

// SnapshotConfig throttles snapshot streaming.
type SnapshotConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	// RateBytesPerSec caps the streaming rate. Zero means unlimited.
	RateBytesPerSec int64 `yaml:"rate_bytes_per_sec"`
}

// Config is the root of the configuration file.
type Config struct {
	Index     IndexConfig      `yaml:"index"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Snapshot  SnapshotConfig   `yaml:"snapshot"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Kind:         KindRTree,
			RootEnvelope: []float64{-180, -90, 180, 90},
			Fanout:       rtree.DefaultFanout,
			Capacity:     qtree.DefaultCapacity,
		},
		Logger: logger.Config{Level: "info", Format: "console", OutputFile: "stderr"},
		Telemetry: telemetry.Config{
			ServiceName:      logger.DefaultService,
			PrometheusPort:   9464,
			TraceSampleRatio: 1,
		},
		Snapshot: SnapshotConfig{ChunkSize: DefaultSnapshotChunkSize},
	}
}

// Load reads and validates the YAML file at path. Keys missing from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML configuration. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes the index kind and checks every section.
func (c *Config) Validate() error {
	c.Index.Kind = strings.ToLower(strings.TrimSpace(c.Index.Kind))
	switch c.Index.Kind {
	case KindRTree, KindQTree:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIndexKind, c.Index.Kind)
	}
	if len(c.Index.RootEnvelope) != 4 {
		return fmt.Errorf("index.root_envelope needs 4 values, got %d", len(c.Index.RootEnvelope))
	}
	if env := c.Index.Envelope(); !env.Valid() {
		return fmt.Errorf("index.root_envelope %v has min greater than max", env)
	}
	if c.Index.Fanout < 0 || c.Index.Fanout > rtree.MaxFanout {
		return fmt.Errorf("index.fanout %d out of range [0, %d]", c.Index.Fanout, rtree.MaxFanout)
	}
	if c.Index.Capacity < 0 {
		return fmt.Errorf("index.capacity %d is negative", c.Index.Capacity)
	}
	if c.Snapshot.ChunkSize <= 0 {
		c.Snapshot.ChunkSize = DefaultSnapshotChunkSize
	}
	if c.Snapshot.RateBytesPerSec < 0 {
		return fmt.Errorf("snapshot.rate_bytes_per_sec %d is negative", c.Snapshot.RateBytesPerSec)
	}
	return nil
}

// NewIndex builds the empty index described by cfg.
func NewIndex(cfg IndexConfig, log *zap.Logger) (spatial.SpatialIndex[int64], error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.RootEnvelope) != 4 {
		return nil, fmt.Errorf("root envelope needs 4 values, got %d", len(cfg.RootEnvelope))
	}
	switch strings.ToLower(cfg.Kind) {
	case KindRTree:
		return rtree.New[int64](cfg.Envelope(), cfg.Fanout, rtree.WithLogger[int64](log.Named("rtree"))), nil
	case KindQTree:
		return qtree.New[int64](cfg.Envelope(), cfg.Capacity, qtree.WithLogger(log.Named("qtree"))), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndexKind, cfg.Kind)
	}
}
