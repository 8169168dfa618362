package rtree

import (
	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"go.uber.org/zap"
)

// Remove deletes the first entry, in depth-first order, whose payload matches
// obj. Underfull nodes left behind are dissolved and their entries inserted
// again.
func (t *RTree[T]) Remove(obj T) bool {
	if spatial.IsNil(obj) || t.size == 0 {
		return false
	}
	trace, ok := t.find(t.root, obj, nil)
	if !ok {
		return false
	}
	leaf := trace[len(trace)-1]
	t.removeEntry(leaf.node, leaf.entry)
	t.size--
	t.condenseTree(trace)
	return true
}

// find searches the subtree of id depth first for a leaf entry matching obj
// and returns the trace leading to it.
func (t *RTree[T]) find(id int, obj T, trace []traceCell) ([]traceCell, bool) {
	n := &t.nodes[id]
	for i, e := range n.entries {
		if n.leaf {
			if t.match(e.value, obj) {
				return append(trace, traceCell{node: id, entry: i}), true
			}
			continue
		}
		if found, ok := t.find(e.child, obj, append(trace, traceCell{node: id, entry: i})); ok {
			return found, true
		}
	}
	return nil, false
}

// condenseTree repairs the tree after an entry was removed from the last node
// of trace. Walking upwards, every node that fell below the minimum fill is
// cut from its parent and its leaf entries are kept as orphans. The first
// node that is still full enough stops the walk; its box and those of its
// ancestors are recomputed. Orphans are inserted again at the end.
func (t *RTree[T]) condenseTree(trace []traceCell) {
	var orphans []nodeEntry[T]
	dissolved := 0
	for level := len(trace) - 1; level > 0; level-- {
		id := trace[level].node
		parent := trace[level-1]
		if len(t.nodes[id].entries) >= t.smallm {
			t.refreshBoxes(trace[:level+1])
			break
		}
		orphans = t.collectLeafEntries(id, orphans)
		t.removeEntry(parent.node, parent.entry)
		dissolved++
	}

	t.shortenRoot()

	if dissolved > 0 {
		t.logger.Debug("rtree condensed after delete",
			zap.Int("dissolved_nodes", dissolved), zap.Int("orphans", len(orphans)))
	}
	for _, o := range orphans {
		t.insertEntry(o)
	}
}

// refreshBoxes recomputes the boxes of the entries followed by trace, from
// the bottom up.
func (t *RTree[T]) refreshBoxes(trace []traceCell) {
	for level := len(trace) - 1; level > 0; level-- {
		parent := trace[level-1]
		t.nodes[parent.node].entries[parent.entry].box = t.bounds(trace[level].node)
	}
}

// collectLeafEntries appends every leaf entry below id to out and releases
// the nodes of the subtree.
func (t *RTree[T]) collectLeafEntries(id int, out []nodeEntry[T]) []nodeEntry[T] {
	n := t.nodes[id]
	if n.leaf {
		out = append(out, n.entries...)
	} else {
		for _, e := range n.entries {
			out = t.collectLeafEntries(e.child, out)
		}
	}
	t.freeNode(id)
	return out
}

// shortenRoot drops root levels that hold a single child and turns an empty
// internal root back into an empty leaf.
func (t *RTree[T]) shortenRoot() {
	for {
		root := &t.nodes[t.root]
		if root.leaf {
			return
		}
		switch len(root.entries) {
		case 0:
			root.leaf = true
			return
		case 1:
			child := root.entries[0].child
			t.freeNode(t.root)
			t.root = child
		default:
			return
		}
	}
}
