package rtree

import (
	"errors"
	"math"
	"sort"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"go.uber.org/zap"
)

// Weighting function parameters of the revised R*-tree split.
const (
	asym   = 1.0
	spread = 0.5

	// minEdge keeps the maximal-margin reference of degenerate nodes away from
	// zero.
	minEdge = 1e-5
)

// split distributes the bigM+1 entries of an overflowing node between the
// node and a newly allocated sibling, returning the sibling.
func (t *RTree[T]) split(id int) int {
	entries := t.nodes[id].entries
	axis := t.chooseSplitAxis(entries)
	sortAlong(entries, axis)
	at := t.chooseSplitIndex(entries)

	sibling := t.allocNode(t.nodes[id].leaf)
	t.nodes[sibling].entries = append(t.nodes[sibling].entries, entries[at+1:]...)
	for i := at + 1; i < len(entries); i++ {
		entries[i] = nodeEntry[T]{}
	}
	t.nodes[id].entries = entries[:at+1]

	t.logger.Debug("rtree node split",
		zap.Int("node", id), zap.Int("sibling", sibling), zap.Int("axis", axis),
		zap.Int("kept", at+1), zap.Int("moved", len(t.nodes[sibling].entries)))
	return sibling
}

// sortAlong orders entries by their lower bound on axis, then by their upper
// bound.
func sortAlong[T comparable](entries []nodeEntry[T], axis int) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].box, entries[j].box
		if a.Min(axis) != b.Min(axis) {
			return a.Min(axis) < b.Min(axis)
		}
		return a.Max(axis) < b.Max(axis)
	})
}

// splitRange returns the first and one past the last valid split index. A
// split at i keeps entries [0..i] and moves (i..] away.
func (t *RTree[T]) splitRange() (int, int) {
	return t.smallm - 1, t.bigM + 1 - t.smallm
}

// chooseSplitAxis returns the axis whose sorted order gives the smallest
// summed margin over all valid split points. X wins ties.
func (t *RTree[T]) chooseSplitAxis(entries []nodeEntry[T]) int {
	sorted := make([]nodeEntry[T], len(entries))
	best, bestSum := 0, math.Inf(1)
	for axis := 0; axis < 2; axis++ {
		copy(sorted, entries)
		sortAlong(sorted, axis)
		prefix, suffix := sweepBounds(sorted)
		lo, hi := t.splitRange()
		sum := 0.0
		for i := lo; i < hi; i++ {
			sum += prefix[i].Margin() + suffix[i+1].Margin()
		}
		if sum < bestSum {
			best, bestSum = axis, sum
		}
	}
	return best
}

// chooseSplitIndex returns the split index with the smallest goal value.
// Splits with disjoint groups score their margin sum below the maximal
// margin, scaled by the weight; overlapping splits score the margin of the
// overlap divided by the weight. Disjoint splits score at or below zero.
func (t *RTree[T]) chooseSplitIndex(entries []nodeEntry[T]) int {
	prefix, suffix := sweepBounds(entries)
	mbb := prefix[len(prefix)-1]
	edge := math.Max(math.Min(mbb.MaxX-mbb.MinX, mbb.MaxY-mbb.MinY), minEdge)
	maxMargin := 2*mbb.Margin() - edge

	lo, hi := t.splitRange()
	best, bestGoal := lo, math.Inf(1)
	for i := lo; i < hi; i++ {
		bb1, bb2 := prefix[i], suffix[i+1]
		w := t.weight(i)

		var goal float64
		overlap, err := bb1.Intersection(bb2)
		switch {
		case errors.Is(err, spatial.ErrNoOverlap):
			goal = (bb1.Margin() + bb2.Margin() - maxMargin) * w
		case w <= 0:
			goal = math.Inf(1)
		default:
			goal = overlap.Margin() / w
		}
		if goal < bestGoal {
			best, bestGoal = i, goal
		}
	}
	return best
}

// weight is the revised R*-tree weighting function for a split keeping i+1
// entries in the first group: a Gaussian over the normalised split position,
// shifted by asym and widened by spread.
func (t *RTree[T]) weight(i int) float64 {
	m, bigM := float64(t.smallm), float64(t.bigM)
	x := 2*float64(i+1)/(bigM+1) - 1
	mu := (1 - 2*m/(bigM+1)) * asym
	sigma := spread * (1 + math.Abs(mu))
	y1 := math.Exp(-1 / (spread * spread))
	ys := 1 / (1 - y1)
	d := (x - mu) / sigma
	return ys * (math.Exp(-d*d) - y1)
}

// sweepBounds returns, for each position i, the bounds of entries [0..i]
// and of entries [i..].
func sweepBounds[T comparable](entries []nodeEntry[T]) (prefix, suffix []spatial.Envelope) {
	n := len(entries)
	prefix = make([]spatial.Envelope, n)
	suffix = make([]spatial.Envelope, n)
	prefix[0] = entries[0].box
	for i := 1; i < n; i++ {
		prefix[i] = prefix[i-1].Union(entries[i].box)
	}
	suffix[n-1] = entries[n-1].box
	for i := n - 2; i >= 0; i-- {
		suffix[i] = suffix[i+1].Union(entries[i].box)
	}
	return prefix, suffix
}
