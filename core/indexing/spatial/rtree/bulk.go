package rtree

import (
	"sort"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"go.uber.org/zap"
)

// InsertBulk replaces the content of the tree with entries using
// Sort-Tile-Recursive packing: entries are sorted by x center and cut into
// slices of fanout² entries, each slice is sorted by y center and packed into
// nodes of fanout entries, and the boxes of those nodes form the next level
// up until a single root remains. Entries with a nil payload or an envelope
// outside the root envelope are skipped.
func (t *RTree[T]) InsertBulk(entries []spatial.Entry[T]) {
	t.Clear()

	level := make([]nodeEntry[T], 0, len(entries))
	for _, e := range entries {
		if spatial.IsNil(e.Value) || !e.Envelope.Intersects(t.env) {
			continue
		}
		level = append(level, nodeEntry[T]{box: e.Envelope, value: e.Value, child: noChild})
	}
	t.size = len(level)
	if t.size == 0 {
		return
	}

	leaf := true
	for len(level) > t.bigM {
		level = t.packLevel(level, leaf)
		leaf = false
	}
	root := &t.nodes[t.root]
	root.leaf = leaf
	root.entries = append(root.entries, level...)

	t.logger.Debug("rtree bulk load finished",
		zap.Int("requested", len(entries)), zap.Int("stored", t.size), zap.Int("height", t.Height()))
}

// packLevel packs items into nodes and returns one internal entry per node.
func (t *RTree[T]) packLevel(items []nodeEntry[T], leaf bool) []nodeEntry[T] {
	sortByCenter(items, 0)
	sliceSize := t.bigM * t.bigM
	parents := make([]nodeEntry[T], 0, len(items)/t.bigM+1)
	for start := 0; start < len(items); start += sliceSize {
		slice := items[start:min(start+sliceSize, len(items))]
		sortByCenter(slice, 1)
		for g := 0; g < len(slice); g += t.bigM {
			group := slice[g:min(g+t.bigM, len(slice))]
			id := t.allocNode(leaf)
			t.nodes[id].entries = append(t.nodes[id].entries, group...)
			parents = append(parents, nodeEntry[T]{box: entriesBounds(group), child: id})
		}
	}
	return parents
}

func sortByCenter[T comparable](items []nodeEntry[T], axis int) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].box.Center(axis) < items[j].box.Center(axis)
	})
}
