// Package qtree implements an adaptive region quadtree over bounding boxes.
//
// A leaf splits into four quadrants once it holds more than its capacity of
// distinct envelopes, and children collapse back into a leaf when removals
// shrink them. Entries whose envelope covers a whole node are kept on that
// node and never count against its capacity.
package qtree

import (
	"fmt"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"go.uber.org/zap"
)

const (
	// MaxDepth bounds the depth of the tree; leaves at depth MaxDepth-1 grow
	// without splitting.
	MaxDepth = 25

	// DefaultCapacity is the leaf capacity used when none is configured.
	DefaultCapacity = 16

	// duplicateEpsilon is the corner distance under which two leaf envelopes
	// count as one for split purposes.
	duplicateEpsilon = 1e-4
)

// InvariantError reports internal state that no sequence of public calls
// should be able to produce.
type InvariantError struct {
	Envelope spatial.Envelope
	Depth    int
	Msg      string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("qtree invariant violated at node %v (depth %d): %s", e.Envelope, e.Depth, e.Msg)
}

// QTree is a region quadtree. It is not safe for concurrent use.
type QTree[T comparable] struct {
	env      spatial.Envelope
	capacity int
	root     *node[T]
	size     int
	logger   *zap.Logger
}

var _ spatial.SpatialIndex[int64] = (*QTree[int64])(nil)

// Option configures a QTree.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for split/merge diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an empty quadtree covering env whose leaves hold capacity
// distinct envelopes before splitting. A non-positive capacity falls back to
// DefaultCapacity.
func New[T comparable](env spatial.Envelope, capacity int, opts ...Option) *QTree[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &QTree[T]{
		env:      env,
		capacity: capacity,
		root:     newNode[T](env, 0, capacity),
		logger:   o.logger,
	}
}

// Envelope returns the root envelope.
func (t *QTree[T]) Envelope() spatial.Envelope {
	return t.env
}

// Capacity returns the leaf capacity.
func (t *QTree[T]) Capacity() int {
	return t.capacity
}

// Len returns the number of entries inserted and not yet removed.
func (t *QTree[T]) Len() int {
	return t.size
}

// Insert stores obj under env.
func (t *QTree[T]) Insert(env spatial.Envelope, obj T) bool {
	if spatial.IsNil(obj) || !env.Intersects(t.env) {
		return false
	}
	t.root.insert(t, spatial.Entry[T]{Envelope: env, Value: obj})
	t.size++
	return true
}

// InsertBulk replaces the content of the tree with entries, inserting them
// one by one.
func (t *QTree[T]) InsertBulk(entries []spatial.Entry[T]) {
	t.Clear()
	for _, e := range entries {
		t.Insert(e.Envelope, e.Value)
	}
	t.logger.Debug("qtree bulk load finished", zap.Int("requested", len(entries)), zap.Int("stored", t.size))
}

// Remove deletes one entry holding obj from the tree, including every
// quadrant copy of that entry. When obj was inserted under several envelopes
// each call removes one of them.
func (t *QTree[T]) Remove(obj T) bool {
	if spatial.IsNil(obj) || t.size == 0 {
		return false
	}
	target, ok := t.root.find(obj)
	if !ok || !t.root.remove(t, target) {
		return false
	}
	t.size--
	return true
}

// Query returns the distinct payloads whose envelopes intersect env.
func (t *QTree[T]) Query(env spatial.Envelope) []T {
	return spatial.Dedup(t.root.query(env, nil))
}

// Clear discards all entries.
func (t *QTree[T]) Clear() {
	t.root = newNode[T](t.env, 0, t.capacity)
	t.size = 0
}

// Depth returns the depth of the deepest node, 0 for a single leaf.
func (t *QTree[T]) Depth() int {
	depth := 0
	t.root.walk(func(n *node[T]) {
		if n.depth > depth {
			depth = n.depth
		}
	})
	return depth
}

// checkLeafCount panics with an *InvariantError when the duplicate-aware
// counter of a leaf no longer matches its entries.
func (t *QTree[T]) checkLeafCount(n *node[T]) {
	want := distinctCount(n.leafObjects)
	if n.leafCount == want {
		return
	}
	err := &InvariantError{
		Envelope: n.env,
		Depth:    n.depth,
		Msg:      fmt.Sprintf("leaf counter %d, entries hold %d distinct envelopes", n.leafCount, want),
	}
	t.logger.Error("qtree leaf counter diverged", zap.Error(err))
	panic(err)
}
