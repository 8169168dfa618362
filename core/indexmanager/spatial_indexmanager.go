package indexmanager

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"github.com/sushant-115/gojospatial/core/indexing/spatial/qtree"
	"github.com/sushant-115/gojospatial/core/indexing/spatial/rtree"
	internaltelemetry "github.com/sushant-115/gojospatial/internal/telemetry"
	"github.com/sushant-115/gojospatial/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultChunkSize   = 4 * 1024
	defaultSendTimeout = 5 * time.Second
	// snapshotHeaderSize is the big-endian LSN preceding the encoded tree.
	snapshotHeaderSize = 8
)

// Options tunes snapshot streaming.
type Options struct {
	// ChunkSize is the size of streamed snapshot chunks.
	ChunkSize int
	// RateBytesPerSec throttles StreamSnapshot. Zero means unlimited.
	RateBytesPerSec int64
	// SendTimeout bounds how long a chunk waits for the receiver.
	SendTimeout time.Duration
}

type snapshot struct {
	data []byte
	lsn  uint64
}

// ===============================================
// SpatialIndexManager: serialized access to a SpatialIndex
// ===============================================

// SpatialIndexManager guards a spatial index with a read/write lock, records
// metrics and spans for every operation, and snapshots R-tree indexes.
type SpatialIndexManager struct {
	mu        sync.RWMutex
	index     spatial.SpatialIndex[int64]
	latestLSN uint64
	snapshots map[string]snapshot

	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *internaltelemetry.IndexMetrics
	kindAttr  metric.MeasurementOption
	chunkSize int
	timeout   time.Duration
	limiter   *rate.Limiter
}

var _ IndexManager = (*SpatialIndexManager)(nil)

// NewSpatialIndexManager wraps index. A nil tel records nothing.
func NewSpatialIndexManager(index spatial.SpatialIndex[int64], logger *zap.Logger, tel *telemetry.Telemetry, opts Options) (*SpatialIndexManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tel == nil {
		tel = telemetry.Noop()
	}
	metrics, err := internaltelemetry.NewIndexMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create index metrics: %w", err)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}

	m := &SpatialIndexManager{
		index:     index,
		snapshots: make(map[string]snapshot),
		logger:    logger.Named("spatial_index_manager"),
		tracer:    tel.Tracer,
		metrics:   metrics,
		chunkSize: opts.ChunkSize,
		timeout:   opts.SendTimeout,
	}
	m.setKind()
	if opts.RateBytesPerSec > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(opts.RateBytesPerSec), opts.ChunkSize)
	}
	if n := index.Len(); n > 0 {
		m.metrics.EntriesUpDownCounter.Add(context.Background(), int64(n), m.kindAttr)
	}
	return m, nil
}

// Name returns the name/type of this index manager.
func (m *SpatialIndexManager) Name() string { return "spatial" }

// Kind returns "rtree" or "qtree".
func (m *SpatialIndexManager) Kind() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return kindOf(m.index)
}

func kindOf(index spatial.SpatialIndex[int64]) string {
	switch index.(type) {
	case *rtree.RTree[int64]:
		return "rtree"
	case *qtree.QTree[int64]:
		return "qtree"
	default:
		return fmt.Sprintf("%T", index)
	}
}

// setKind refreshes the metric attribute. Callers hold the write lock or own m exclusively.
func (m *SpatialIndexManager) setKind() {
	m.kindAttr = metric.WithAttributes(attribute.String("index.kind", kindOf(m.index)))
}

func (m *SpatialIndexManager) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "SpatialIndexManager."+op)
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// InsertSpatial stores id under env. It reports whether the index accepted
// the entry.
func (m *SpatialIndexManager) InsertSpatial(ctx context.Context, env spatial.Envelope, id int64) bool {
	ctx, span := m.startSpan(ctx, "InsertSpatial")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.index.Insert(env, id) {
		span.SetAttributes(attribute.Bool("accepted", false))
		return false
	}
	m.latestLSN++
	m.metrics.InsertsCounter.Add(ctx, 1, m.kindAttr)
	m.metrics.EntriesUpDownCounter.Add(ctx, 1, m.kindAttr)
	return true
}

// DeleteSpatial removes one entry holding id.
func (m *SpatialIndexManager) DeleteSpatial(ctx context.Context, id int64) bool {
	ctx, span := m.startSpan(ctx, "DeleteSpatial")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.index.Len()
	if !m.index.Remove(id) {
		span.SetAttributes(attribute.Bool("found", false))
		return false
	}
	m.latestLSN++
	m.metrics.RemovesCounter.Add(ctx, 1, m.kindAttr)
	m.metrics.EntriesUpDownCounter.Add(ctx, int64(m.index.Len()-before), m.kindAttr)
	return true
}

// QuerySpatial returns the distinct ids whose envelope intersects env.
func (m *SpatialIndexManager) QuerySpatial(ctx context.Context, env spatial.Envelope) []int64 {
	ctx, span := m.startSpan(ctx, "QuerySpatial")
	defer span.End()

	start := time.Now()
	m.mu.RLock()
	ids := m.index.Query(env)
	kind := m.kindAttr
	m.mu.RUnlock()

	m.metrics.QueriesCounter.Add(ctx, 1, kind)
	m.metrics.QueryLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000, kind)
	span.SetAttributes(attribute.Int("results", len(ids)))
	return ids
}

// BulkLoad replaces the content of the index with entries.
func (m *SpatialIndexManager) BulkLoad(ctx context.Context, entries []spatial.Entry[int64]) int {
	ctx, span := m.startSpan(ctx, "BulkLoad")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.index.Len()
	m.index.InsertBulk(entries)
	after := m.index.Len()
	m.latestLSN++
	m.metrics.InsertsCounter.Add(ctx, int64(after), m.kindAttr)
	m.metrics.EntriesUpDownCounter.Add(ctx, int64(after-before), m.kindAttr)
	span.SetAttributes(attribute.Int("requested", len(entries)), attribute.Int("stored", after))
	m.logger.Info("Bulk load finished", zap.Int("requested", len(entries)), zap.Int("stored", after))
	return after
}

// Clear discards every entry.
func (m *SpatialIndexManager) Clear(ctx context.Context) {
	ctx, span := m.startSpan(ctx, "Clear")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.index.Len()
	m.index.Clear()
	m.latestLSN++
	m.metrics.EntriesUpDownCounter.Add(ctx, -int64(before), m.kindAttr)
}

// Len returns the number of stored entries.
func (m *SpatialIndexManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Len()
}

// Envelope returns the root envelope of the managed index.
func (m *SpatialIndexManager) Envelope() spatial.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Envelope()
}

func (m *SpatialIndexManager) GetLatestLSN() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestLSN
}

// rtreeLocked returns the managed R-tree. Callers hold m.mu.
func (m *SpatialIndexManager) rtreeLocked() (*rtree.RTree[int64], error) {
	tree, ok := m.index.(*rtree.RTree[int64])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPersistenceUnsupported, kindOf(m.index))
	}
	return tree, nil
}

// swapLocked installs tree as the managed index. Callers hold the write lock.
func (m *SpatialIndexManager) swapLocked(ctx context.Context, tree *rtree.RTree[int64]) {
	before := m.index.Len()
	m.index = tree
	m.setKind()
	m.metrics.EntriesUpDownCounter.Add(ctx, int64(tree.Len()-before), m.kindAttr)
}

func (m *SpatialIndexManager) decodeOptions() []rtree.Option[int64] {
	return []rtree.Option[int64]{rtree.WithLogger[int64](m.logger.Named("rtree"))}
}

// PrepareSnapshot encodes the managed R-tree together with the latest LSN
// and keeps it under a fresh ID until released.
func (m *SpatialIndexManager) PrepareSnapshot(ctx context.Context) (string, error) {
	_, span := m.startSpan(ctx, "PrepareSnapshot")
	defer span.End()

	m.mu.RLock()
	tree, err := m.rtreeLocked()
	if err != nil {
		m.mu.RUnlock()
		return "", failSpan(span, err)
	}
	lsn := m.latestLSN
	buf := bytes.NewBuffer(binary.BigEndian.AppendUint64(nil, lsn))
	err = rtree.Encode(buf, tree)
	m.mu.RUnlock()
	if err != nil {
		return "", failSpan(span, fmt.Errorf("failed to encode spatial index snapshot: %w", err))
	}

	snapshotID := "spatial-snapshot-" + uuid.New().String()
	m.mu.Lock()
	m.snapshots[snapshotID] = snapshot{data: buf.Bytes(), lsn: lsn}
	m.mu.Unlock()

	span.SetAttributes(attribute.String("snapshot.id", snapshotID), attribute.Int("snapshot.bytes", buf.Len()))
	m.logger.Info("Prepared snapshot",
		zap.String("snapshot_id", snapshotID), zap.Uint64("lsn", lsn), zap.Int("bytes", buf.Len()))
	return snapshotID, nil
}

// ReleaseSnapshot drops a prepared snapshot.
func (m *SpatialIndexManager) ReleaseSnapshot(snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[snapshotID]; !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	delete(m.snapshots, snapshotID)
	return nil
}

// StreamSnapshot sends a prepared snapshot over chunkChan in chunks,
// throttled to the configured rate, and closes chunkChan when done.
func (m *SpatialIndexManager) StreamSnapshot(ctx context.Context, snapshotID string, chunkChan chan []byte) error {
	defer close(chunkChan)
	ctx, span := m.startSpan(ctx, "StreamSnapshot")
	defer span.End()

	m.mu.RLock()
	snap, ok := m.snapshots[snapshotID]
	m.mu.RUnlock()
	if !ok {
		return failSpan(span, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID))
	}

	for i := 0; i < len(snap.data); i += m.chunkSize {
		chunk := snap.data[i:min(i+m.chunkSize, len(snap.data))]
		if m.limiter != nil {
			if err := m.limiter.WaitN(ctx, len(chunk)); err != nil {
				return failSpan(span, fmt.Errorf("rate limiter error: %w", err))
			}
		}
		select {
		case chunkChan <- chunk:
			m.metrics.SnapshotBytesCounter.Add(ctx, int64(len(chunk)), m.kindAttr)
		case <-ctx.Done():
			return failSpan(span, ctx.Err())
		case <-time.After(m.timeout):
			return failSpan(span, fmt.Errorf("timeout sending spatial index snapshot chunk at offset %d", i))
		}
	}
	m.logger.Info("Streamed snapshot successfully", zap.String("snapshot_id", snapshotID), zap.Int("bytes", len(snap.data)))
	return nil
}

// ApplySnapshot drains chunkChan, decodes the snapshot and replaces the
// managed R-tree with it. The index is left untouched on error.
func (m *SpatialIndexManager) ApplySnapshot(ctx context.Context, snapshotID string, chunkChan <-chan []byte) error {
	ctx, span := m.startSpan(ctx, "ApplySnapshot")
	defer span.End()

	var received []byte
	for done := false; !done; {
		select {
		case chunk, ok := <-chunkChan:
			if !ok {
				done = true
				break
			}
			received = append(received, chunk...)
		case <-ctx.Done():
			return failSpan(span, ctx.Err())
		}
	}
	if len(received) < snapshotHeaderSize {
		return failSpan(span, fmt.Errorf("%w: snapshot %s holds %d bytes", rtree.ErrCorrupted, snapshotID, len(received)))
	}
	lsn := binary.BigEndian.Uint64(received[:snapshotHeaderSize])
	tree, err := rtree.Decode(bytes.NewReader(received[snapshotHeaderSize:]), m.decodeOptions()...)
	if err != nil {
		return failSpan(span, fmt.Errorf("failed to decode spatial index snapshot %s: %w", snapshotID, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.rtreeLocked(); err != nil {
		return failSpan(span, err)
	}
	m.swapLocked(ctx, tree)
	m.latestLSN = lsn
	m.logger.Info("Applied snapshot",
		zap.String("snapshot_id", snapshotID), zap.Uint64("lsn", lsn), zap.Int("entries", tree.Len()))
	return nil
}

// Save writes the managed R-tree to path.
func (m *SpatialIndexManager) Save(ctx context.Context, path string) error {
	_, span := m.startSpan(ctx, "Save")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, err := m.rtreeLocked()
	if err != nil {
		return failSpan(span, err)
	}
	if err := rtree.WriteTreeToDisk(path, tree); err != nil {
		return failSpan(span, err)
	}
	return nil
}

// Load replaces the managed R-tree with the tree stored at path.
func (m *SpatialIndexManager) Load(ctx context.Context, path string) error {
	ctx, span := m.startSpan(ctx, "Load")
	defer span.End()

	m.mu.RLock()
	_, err := m.rtreeLocked()
	m.mu.RUnlock()
	if err != nil {
		return failSpan(span, err)
	}

	tree, err := rtree.LoadFromDisk(path, m.decodeOptions()...)
	if err != nil {
		return failSpan(span, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.swapLocked(ctx, tree)
	m.latestLSN++
	return nil
}
