package rtree

import (
	"math"
	"sort"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"go.uber.org/zap"
)

// zeroDelta is the threshold under which an enlargement or overlap increase
// counts as no increase at all.
const zeroDelta = 1e-11

// Insert stores obj under env.
func (t *RTree[T]) Insert(env spatial.Envelope, obj T) bool {
	if spatial.IsNil(obj) || !env.Intersects(t.env) {
		return false
	}
	t.insertEntry(nodeEntry[T]{box: env, value: obj, child: noChild})
	t.size++
	return true
}

// insertEntry places a leaf entry and repairs the tree above it. It does not
// touch the size counter.
func (t *RTree[T]) insertEntry(e nodeEntry[T]) {
	trace := t.chooseLeaf(e.box)
	leaf := trace[len(trace)-1].node
	t.nodes[leaf].entries = append(t.nodes[leaf].entries, e)
	t.adjustTree(trace)
}

// chooseLeaf descends from the root to the leaf that should receive box and
// returns the trace of the descent. The last cell is the leaf, with entry -1.
func (t *RTree[T]) chooseLeaf(box spatial.Envelope) []traceCell {
	var trace []traceCell
	id := t.root
	for !t.nodes[id].leaf {
		i := t.chooseSubtree(id, box)
		trace = append(trace, traceCell{node: id, entry: i})
		id = t.nodes[id].entries[i].child
	}
	return append(trace, traceCell{node: id, entry: -1})
}

// chooseSubtree picks the entry of an internal node to descend into.
//
// Entries that already contain box win outright, smallest area first. Else
// entries are ranked by the perimeter growth the insertion causes; the best
// ranked one is taken if growing it adds no perimeter overlap with its
// siblings. Otherwise the ranked candidates up to the last one the best
// ranked entry would newly overlap are compared by total overlap growth.
func (t *RTree[T]) chooseSubtree(id int, box spatial.Envelope) int {
	entries := t.nodes[id].entries

	best := -1
	var bestArea, bestMargin float64
	for i, e := range entries {
		if !e.box.Contains(box) {
			continue
		}
		area, margin := e.box.Area(), e.box.Margin()
		if best == -1 || area < bestArea || (area == bestArea && margin < bestMargin) {
			best, bestArea, bestMargin = i, area, margin
		}
	}
	if best != -1 {
		return best
	}

	order := make([]int, len(entries))
	growth := make([]float64, len(entries))
	for i, e := range entries {
		order[i] = i
		growth[i] = e.box.MarginEnlargement(box)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return growth[order[a]] < growth[order[b]]
	})

	first := order[0]
	last := 0
	for k := 1; k < len(order); k++ {
		if t.overlapGrowth(entries, first, order[k], box) > zeroDelta {
			last = k
		}
	}
	if last == 0 {
		return first
	}

	best = first
	bestGrowth := math.Inf(1)
	for k := 0; k <= last; k++ {
		c := order[k]
		total := 0.0
		for j := range entries {
			if j != c {
				total += t.overlapGrowth(entries, c, j, box)
			}
		}
		if total <= zeroDelta {
			return c
		}
		if total < bestGrowth {
			best, bestGrowth = c, total
		}
	}
	return best
}

// overlapGrowth is the increase of the perimeter overlap between entries c
// and j when c is enlarged to take box.
func (t *RTree[T]) overlapGrowth(entries []nodeEntry[T], c, j int, box spatial.Envelope) float64 {
	grown := entries[c].box.Union(box)
	return grown.OverlapMargin(entries[j].box) - entries[c].box.OverlapMargin(entries[j].box)
}

// adjustTree walks a trace bottom-up after its last node changed, refreshing
// the covering box of each followed entry and splitting overflowing nodes.
// A split of the root grows the tree by one level.
func (t *RTree[T]) adjustTree(trace []traceCell) {
	sibling := noChild
	for level := len(trace) - 1; level >= 0; level-- {
		id := trace[level].node
		if level < len(trace)-1 {
			child := trace[level+1].node
			t.nodes[id].entries[trace[level].entry].box = t.bounds(child)
			if sibling != noChild {
				t.nodes[id].entries = append(t.nodes[id].entries,
					nodeEntry[T]{box: t.bounds(sibling), child: sibling})
			}
		}
		sibling = noChild
		if len(t.nodes[id].entries) > t.bigM {
			sibling = t.split(id)
		}
	}
	if sibling == noChild {
		return
	}

	oldRoot := t.root
	newRoot := t.allocNode(false)
	t.nodes[newRoot].entries = append(t.nodes[newRoot].entries,
		nodeEntry[T]{box: t.bounds(oldRoot), child: oldRoot},
		nodeEntry[T]{box: t.bounds(sibling), child: sibling},
	)
	t.root = newRoot
	t.logger.Debug("rtree root split", zap.Int("height", t.Height()), zap.Int("entries", t.size))
}
