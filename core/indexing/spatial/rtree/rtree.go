// Package rtree implements an in-memory R*-tree over bounding boxes.
//
// Insertion follows the revised R*-tree ChooseSubtree and split heuristics,
// deletion condenses underfull nodes and reinserts their entries, and
// InsertBulk builds a packed tree with Sort-Tile-Recursive loading. Trees with
// int64 payloads can be written to and read from a flat binary stream.
//
// Nodes live in an arena slice and refer to their children by index; no node
// stores a link to its parent. Mutations that need the ancestors of a node
// carry the descent path as a trace.
package rtree

import (
	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"go.uber.org/zap"
)

const (
	// DefaultFanout is the maximum number of entries per node used when none
	// is configured.
	DefaultFanout = 128

	// MinFanout is the smallest fanout a tree accepts.
	MinFanout = 2

	// MaxFanout is the largest fanout a tree accepts. Decoding refuses
	// streams that ask for more.
	MaxFanout = 1 << 14

	noChild = -1
)

// nodeEntry is a slot of a node. Leaf entries carry a value and child ==
// noChild; internal entries point at a child node and carry no value.
type nodeEntry[T comparable] struct {
	box   spatial.Envelope
	value T
	child int
}

func (e nodeEntry[T]) isLeafEntry() bool {
	return e.child == noChild
}

// node holds at most fanout entries. The extra slot of capacity only ever
// holds the entry that triggers a split. Decoded nodes start out sized to
// their entry count instead.
type node[T comparable] struct {
	entries []nodeEntry[T]
	leaf    bool
}

// traceCell records one step of a descent: the node visited and the entry
// followed (or found) in it.
type traceCell struct {
	node  int
	entry int
}

// RTree is an R*-tree. It is not safe for concurrent use.
type RTree[T comparable] struct {
	env    spatial.Envelope
	bigM   int
	smallm int

	nodes []node[T]
	free  []int
	root  int
	size  int

	match  func(stored, target T) bool
	logger *zap.Logger
}

var _ spatial.SpatialIndex[int64] = (*RTree[int64])(nil)

// Option configures an RTree.
type Option[T comparable] func(*RTree[T])

// WithLogger sets the logger used for structural diagnostics.
func WithLogger[T comparable](l *zap.Logger) Option[T] {
	return func(t *RTree[T]) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMatcher sets how Remove decides that a stored payload is the one being
// removed. The default compares payloads with ==.
func WithMatcher[T comparable](match func(stored, target T) bool) Option[T] {
	return func(t *RTree[T]) {
		if match != nil {
			t.match = match
		}
	}
}

// New creates an empty tree accepting entries that intersect env, with at
// most fanout entries per node. A non-positive fanout selects DefaultFanout;
// other values are clamped to [MinFanout, MaxFanout].
func New[T comparable](env spatial.Envelope, fanout int, opts ...Option[T]) *RTree[T] {
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	t := newTree(env, min(max(fanout, MinFanout), MaxFanout), opts...)
	t.root = t.allocNode(true)
	return t
}

// newTree builds a tree with no nodes allocated.
func newTree[T comparable](env spatial.Envelope, fanout int, opts ...Option[T]) *RTree[T] {
	t := &RTree[T]{
		env:    env,
		bigM:   fanout,
		smallm: max(1, fanout/5),
		match:  func(stored, target T) bool { return stored == target },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Envelope returns the root envelope.
func (t *RTree[T]) Envelope() spatial.Envelope {
	return t.env
}

// Fanout returns the maximum number of entries per node.
func (t *RTree[T]) Fanout() int {
	return t.bigM
}

// Len returns the number of stored entries.
func (t *RTree[T]) Len() int {
	return t.size
}

// Height returns the number of node levels, 1 for a tree whose root is a leaf.
func (t *RTree[T]) Height() int {
	h := 1
	for id := t.root; !t.nodes[id].leaf; id = t.nodes[id].entries[0].child {
		h++
	}
	return h
}

// Query returns the distinct payloads whose envelopes intersect env.
func (t *RTree[T]) Query(env spatial.Envelope) []T {
	if t.size == 0 {
		return []T{}
	}
	return spatial.Dedup(t.search(t.root, env, nil))
}

func (t *RTree[T]) search(id int, env spatial.Envelope, out []T) []T {
	n := &t.nodes[id]
	for _, e := range n.entries {
		if !e.box.Intersects(env) {
			continue
		}
		if n.leaf {
			out = append(out, e.value)
		} else {
			out = t.search(e.child, env, out)
		}
	}
	return out
}

// Clear discards all entries and nodes.
func (t *RTree[T]) Clear() {
	t.nodes = t.nodes[:0]
	t.free = t.free[:0]
	t.size = 0
	t.root = t.allocNode(true)
}

func (t *RTree[T]) allocNode(leaf bool) int {
	return t.allocNodeCap(leaf, t.bigM+1)
}

// allocNodeCap allocates a node whose entry slice starts with the given
// capacity. Appends past it grow the slice as usual.
func (t *RTree[T]) allocNodeCap(leaf bool, capacity int) int {
	n := node[T]{entries: make([]nodeEntry[T], 0, capacity), leaf: leaf}
	if k := len(t.free); k > 0 {
		id := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[id] = n
		return id
	}
	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1
}

func (t *RTree[T]) freeNode(id int) {
	t.nodes[id] = node[T]{}
	t.free = append(t.free, id)
}

// bounds returns the envelope enclosing every entry of a node.
func (t *RTree[T]) bounds(id int) spatial.Envelope {
	return entriesBounds(t.nodes[id].entries)
}

func entriesBounds[T comparable](entries []nodeEntry[T]) spatial.Envelope {
	if len(entries) == 0 {
		return spatial.Envelope{}
	}
	bb := entries[0].box
	for _, e := range entries[1:] {
		bb = bb.Union(e.box)
	}
	return bb
}

// removeEntry deletes slot i of a node, shifting later slots left and
// clearing the vacated trailing slot.
func (t *RTree[T]) removeEntry(id, i int) {
	entries := t.nodes[id].entries
	copy(entries[i:], entries[i+1:])
	entries[len(entries)-1] = nodeEntry[T]{}
	t.nodes[id].entries = entries[:len(entries)-1]
}
