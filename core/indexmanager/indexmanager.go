package indexmanager

import (
	"context"
	"errors"
)

var (
	// ErrSnapshotNotFound is returned for a snapshot ID that was never
	// prepared or was already released.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrPersistenceUnsupported is returned when snapshots or disk
	// persistence are requested for an index without a codec.
	ErrPersistenceUnsupported = errors.New("index kind does not support persistence")
)

// IndexManager is the snapshot and bookkeeping surface shared by managed
// indexes.
type IndexManager interface {
	// PrepareSnapshot captures the current index state, returning a unique ID.
	PrepareSnapshot(ctx context.Context) (string, error)
	// StreamSnapshot sends the snapshot in chunks and closes chunkChan.
	StreamSnapshot(ctx context.Context, snapshotID string, chunkChan chan []byte) error
	// ApplySnapshot replaces the index with a streamed snapshot.
	ApplySnapshot(ctx context.Context, snapshotID string, chunkChan <-chan []byte) error
	// ReleaseSnapshot drops a prepared snapshot.
	ReleaseSnapshot(snapshotID string) error
	// GetLatestLSN returns the sequence number of the last applied mutation.
	GetLatestLSN() uint64
	// Name returns the name/type of this index manager (e.g., "spatial").
	Name() string
}
