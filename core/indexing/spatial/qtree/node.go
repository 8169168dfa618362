package qtree

import (
	"math"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"go.uber.org/zap"
)

// Quadrant slots of an internal node.
const (
	lowerLeft = iota
	lowerRight
	upperLeft
	upperRight
)

// node is either a leaf (children == nil) holding leafObjects, or an internal
// node with four lazily allocated children. Both kinds may hold covering
// entries, whose envelopes contain the whole node envelope.
type node[T comparable] struct {
	env      spatial.Envelope
	depth    int
	capacity int

	leafObjects []spatial.Entry[T]
	// leafCount counts leafObjects whose envelopes are not duplicates of an
	// earlier leaf entry.
	leafCount int
	covering  []spatial.Entry[T]

	children *[4]*node[T]
}

func newNode[T comparable](env spatial.Envelope, depth, capacity int) *node[T] {
	return &node[T]{env: env, depth: depth, capacity: capacity}
}

func (n *node[T]) isLeaf() bool {
	return n.children == nil
}

func (n *node[T]) isEmpty() bool {
	return n.isLeaf() && len(n.leafObjects) == 0 && len(n.covering) == 0
}

// sameEnvelope compares the min and max corners of two envelopes by Euclidean
// distance against duplicateEpsilon.
func sameEnvelope(a, b spatial.Envelope) bool {
	dMin := math.Hypot(a.MinX-b.MinX, a.MinY-b.MinY)
	dMax := math.Hypot(a.MaxX-b.MaxX, a.MaxY-b.MaxY)
	return dMin < duplicateEpsilon && dMax < duplicateEpsilon
}

func (n *node[T]) hasDuplicate(env spatial.Envelope) bool {
	for _, e := range n.leafObjects {
		if sameEnvelope(e.Envelope, env) {
			return true
		}
	}
	return false
}

// distinctCount recomputes the duplicate-aware leaf counter from scratch.
func distinctCount[T comparable](entries []spatial.Entry[T]) int {
	count := 0
	for i, e := range entries {
		dup := false
		for _, prev := range entries[:i] {
			if sameEnvelope(prev.Envelope, e.Envelope) {
				dup = true
				break
			}
		}
		if !dup {
			count++
		}
	}
	return count
}

// childEnvelope derives the envelope of a quadrant from this node's envelope.
func (n *node[T]) childEnvelope(quadrant int) spatial.Envelope {
	midX := (n.env.MinX + n.env.MaxX) / 2
	midY := (n.env.MinY + n.env.MaxY) / 2
	switch quadrant {
	case lowerLeft:
		return spatial.Envelope{MinX: n.env.MinX, MinY: n.env.MinY, MaxX: midX, MaxY: midY}
	case lowerRight:
		return spatial.Envelope{MinX: midX, MinY: n.env.MinY, MaxX: n.env.MaxX, MaxY: midY}
	case upperLeft:
		return spatial.Envelope{MinX: n.env.MinX, MinY: midY, MaxX: midX, MaxY: n.env.MaxY}
	default:
		return spatial.Envelope{MinX: midX, MinY: midY, MaxX: n.env.MaxX, MaxY: n.env.MaxY}
	}
}

// quadrants reports which quadrants env reaches, comparing it against the
// half axes of this node.
func (n *node[T]) quadrants(env spatial.Envelope) [4]bool {
	midX := (n.env.MinX + n.env.MaxX) / 2
	midY := (n.env.MinY + n.env.MaxY) / 2
	left := env.MinX <= midX
	right := env.MaxX >= midX
	lower := env.MinY <= midY
	upper := env.MaxY >= midY
	return [4]bool{
		lowerLeft:  left && lower,
		lowerRight: right && lower,
		upperLeft:  left && upper,
		upperRight: right && upper,
	}
}

func (n *node[T]) child(quadrant int) *node[T] {
	c := n.children[quadrant]
	if c == nil {
		c = newNode[T](n.childEnvelope(quadrant), n.depth+1, n.capacity)
		n.children[quadrant] = c
	}
	return c
}

func (n *node[T]) insert(t *QTree[T], e spatial.Entry[T]) {
	if e.Envelope.Contains(n.env) {
		n.covering = append(n.covering, e)
		return
	}
	if !n.isLeaf() {
		n.insertIntoChildren(t, e)
		return
	}

	if !n.hasDuplicate(e.Envelope) {
		n.leafCount++
	}
	n.leafObjects = append(n.leafObjects, e)

	if n.leafCount > n.capacity && n.depth+1 < MaxDepth {
		n.split(t)
	}
}

func (n *node[T]) insertIntoChildren(t *QTree[T], e spatial.Entry[T]) {
	for q, hit := range n.quadrants(e.Envelope) {
		if hit {
			n.child(q).insert(t, e)
		}
	}
}

// split turns a leaf into an internal node and pushes every leaf entry into
// each quadrant it reaches.
func (n *node[T]) split(t *QTree[T]) {
	entries := n.leafObjects
	n.leafObjects = nil
	n.leafCount = 0
	n.children = new([4]*node[T])
	for _, e := range entries {
		n.insertIntoChildren(t, e)
	}
	t.logger.Debug("qtree node split",
		zap.Stringer("envelope", n.env), zap.Int("depth", n.depth), zap.Int("entries", len(entries)))
}

// find returns the first entry holding obj, searching covering lists before
// leaf lists, depth first.
func (n *node[T]) find(obj T) (spatial.Entry[T], bool) {
	for _, e := range n.covering {
		if e.Value == obj {
			return e, true
		}
	}
	if n.isLeaf() {
		for _, e := range n.leafObjects {
			if e.Value == obj {
				return e, true
			}
		}
		return spatial.Entry[T]{}, false
	}
	for _, c := range n.children {
		if c == nil {
			continue
		}
		if e, ok := c.find(obj); ok {
			return e, true
		}
	}
	return spatial.Entry[T]{}, false
}

func indexOf[T comparable](entries []spatial.Entry[T], target spatial.Entry[T]) int {
	for i, e := range entries {
		if e.Value == target.Value && e.Envelope == target.Envelope {
			return i
		}
	}
	return -1
}

// remove deletes one copy of target along the path insert took for it, so
// every quadrant copy of that single entry goes away. It returns true if
// anything was removed.
func (n *node[T]) remove(t *QTree[T], target spatial.Entry[T]) bool {
	if target.Envelope.Contains(n.env) {
		i := indexOf(n.covering, target)
		if i < 0 {
			return false
		}
		n.covering = append(n.covering[:i], n.covering[i+1:]...)
		return true
	}

	if n.isLeaf() {
		i := indexOf(n.leafObjects, target)
		if i < 0 {
			return false
		}
		t.checkLeafCount(n)
		n.leafObjects = append(n.leafObjects[:i], n.leafObjects[i+1:]...)
		// Duplicate matching is not transitive, so recount instead of
		// decrementing.
		n.leafCount = distinctCount(n.leafObjects)
		return true
	}

	removed := false
	for q, hit := range n.quadrants(target.Envelope) {
		if c := n.children[q]; hit && c != nil && c.remove(t, target) {
			removed = true
		}
	}
	if removed {
		n.merge(t)
	}
	return removed
}

type entryKey[T comparable] struct {
	env   spatial.Envelope
	value T
}

// merge prunes empty children and collapses the node back into a leaf when
// all children are leaves holding at most capacity distinct objects.
func (n *node[T]) merge(t *QTree[T]) {
	allLeaves := true
	for q, c := range n.children {
		if c == nil {
			continue
		}
		if c.isEmpty() {
			n.children[q] = nil
			continue
		}
		if !c.isLeaf() {
			allLeaves = false
		}
	}
	if !allLeaves {
		return
	}

	// A single entry is copied into every child it reaches, while repeated
	// inserts of the same entry show up repeatedly inside one child. Keep
	// each (envelope, value) pair as often as the child holding it most.
	keep := make(map[entryKey[T]]int)
	var order []spatial.Entry[T]
	values := make(map[T]struct{})
	for _, c := range n.children {
		if c == nil {
			continue
		}
		local := make(map[entryKey[T]]int)
		for _, list := range [][]spatial.Entry[T]{c.covering, c.leafObjects} {
			for _, e := range list {
				k := entryKey[T]{env: e.Envelope, value: e.Value}
				local[k]++
				if local[k] > keep[k] {
					keep[k] = local[k]
					order = append(order, e)
				}
				values[e.Value] = struct{}{}
			}
		}
	}
	if len(values) > n.capacity {
		return
	}

	n.children = nil
	n.leafObjects = order
	n.leafCount = distinctCount(order)
	t.logger.Debug("qtree children merged",
		zap.Stringer("envelope", n.env), zap.Int("depth", n.depth), zap.Int("entries", len(order)))
}

func (n *node[T]) query(env spatial.Envelope, out []T) []T {
	if !n.env.Intersects(env) {
		return out
	}
	for _, e := range n.covering {
		out = append(out, e.Value)
	}
	if n.isLeaf() {
		for _, e := range n.leafObjects {
			if e.Envelope.Intersects(env) {
				out = append(out, e.Value)
			}
		}
		return out
	}
	for _, c := range n.children {
		if c != nil {
			out = c.query(env, out)
		}
	}
	return out
}

// walk visits the node and all of its descendants depth first.
func (n *node[T]) walk(fn func(*node[T])) {
	fn(n)
	if n.isLeaf() {
		return
	}
	for _, c := range n.children {
		if c != nil {
			c.walk(fn)
		}
	}
}
