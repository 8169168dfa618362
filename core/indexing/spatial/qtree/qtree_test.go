package qtree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"go.uber.org/zap"
)

// --- Test Helpers ---

func unitBox(x, y float64) spatial.Envelope {
	return spatial.Envelope{MinX: x, MinY: y, MaxX: x + 1, MaxY: y + 1}
}

func newTestTree(t *testing.T, capacity int) *QTree[int64] {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return New[int64](spatial.Envelope{MaxX: 100, MaxY: 100}, capacity, WithLogger(logger))
}

func sorted(values []int64) []int64 {
	out := append([]int64(nil), values...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func randomEntries(r *rand.Rand, n int) []spatial.Entry[int64] {
	entries := make([]spatial.Entry[int64], n)
	for i := range entries {
		x, y := r.Float64()*98, r.Float64()*98
		w, h := r.Float64()*2, r.Float64()*2
		entries[i] = spatial.Entry[int64]{
			Envelope: spatial.Envelope{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h},
			Value:    int64(i + 1),
		}
	}
	return entries
}

func bruteForce(entries []spatial.Entry[int64], q spatial.Envelope) []int64 {
	var out []int64
	for _, e := range entries {
		if e.Envelope.Intersects(q) {
			out = append(out, e.Value)
		}
	}
	return sorted(out)
}

// --- Test Cases ---

func TestQTree_SplitAndMerge(t *testing.T) {
	tree := newTestTree(t, 2)

	require.True(t, tree.Insert(unitBox(1, 1), 1))
	require.True(t, tree.Insert(unitBox(50, 50), 2))
	require.True(t, tree.root.isLeaf(), "two entries fit into the root leaf")

	require.True(t, tree.Insert(unitBox(90, 90), 3))
	require.False(t, tree.root.isLeaf(), "third entry must split the root")

	require.True(t, tree.Remove(int64(3)))
	require.True(t, tree.Remove(int64(2)))

	require.True(t, tree.root.isLeaf(), "children must merge back into the root")
	require.Len(t, tree.root.leafObjects, 1)
	require.Equal(t, int64(1), tree.root.leafObjects[0].Value)
	require.Equal(t, []int64{1}, tree.Query(tree.Envelope()))
}

func TestQTree_CoveringObjectNeverSplits(t *testing.T) {
	tree := newTestTree(t, 1)

	for i := int64(1); i <= 10; i++ {
		require.True(t, tree.Insert(tree.Envelope(), i))
	}
	require.True(t, tree.root.isLeaf())
	require.Len(t, tree.root.covering, 10)
	require.Zero(t, tree.root.leafCount)

	got := tree.Query(spatial.Envelope{MinX: 10, MinY: 10, MaxX: 11, MaxY: 11})
	require.Len(t, got, 10)
}

func TestQTree_CoveringObjectFoundBelowSplitRoot(t *testing.T) {
	tree := newTestTree(t, 2)
	for i := 0; i < 20; i++ {
		require.True(t, tree.Insert(unitBox(float64(i*4), float64(i*4)), int64(i+1)))
	}
	require.True(t, tree.Insert(tree.Envelope(), 999))

	for _, q := range []spatial.Envelope{
		{MinX: 0, MinY: 0, MaxX: 0.5, MaxY: 0.5},
		{MinX: 70, MinY: 10, MaxX: 71, MaxY: 11},
		{MinX: 99, MinY: 99, MaxX: 100, MaxY: 100},
	} {
		require.Contains(t, tree.Query(q), int64(999), "query %v", q)
	}
}

func TestQTree_DuplicatesDoNotForceSplits(t *testing.T) {
	tree := newTestTree(t, 2)
	for i := int64(1); i <= 50; i++ {
		// Jitter stays well under the duplicate epsilon.
		d := float64(i) * 1e-7
		require.True(t, tree.Insert(spatial.Envelope{MinX: 10 + d, MinY: 10, MaxX: 11 + d, MaxY: 11}, i))
	}
	require.True(t, tree.root.isLeaf())
	require.Equal(t, 1, tree.root.leafCount)
	require.Len(t, tree.Query(unitBox(10, 10)), 50)
}

func TestQTree_InvalidInsert(t *testing.T) {
	tree := New[*string](spatial.Envelope{MaxX: 100, MaxY: 100}, 4)
	s := "a"

	require.False(t, tree.Insert(unitBox(1, 1), nil))
	require.False(t, tree.Insert(spatial.Envelope{MinX: 200, MinY: 200, MaxX: 201, MaxY: 201}, &s))
	require.True(t, tree.Insert(unitBox(1, 1), &s))
	require.Equal(t, 1, tree.Len())
}

func TestQTree_RemoveMissing(t *testing.T) {
	tree := newTestTree(t, 4)
	require.False(t, tree.Remove(1), "empty tree")

	entries := randomEntries(rand.New(rand.NewSource(3)), 40)
	tree.InsertBulk(entries)
	before := sorted(tree.Query(tree.Envelope()))

	require.False(t, tree.Remove(12345))
	require.Equal(t, before, sorted(tree.Query(tree.Envelope())))
}

func TestQTree_QueryMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	entries := randomEntries(r, 500)
	tree := newTestTree(t, 8)
	for _, e := range entries {
		require.True(t, tree.Insert(e.Envelope, e.Value))
	}
	require.Greater(t, tree.Depth(), 0)

	require.Equal(t, bruteForce(entries, tree.Envelope()), sorted(tree.Query(tree.Envelope())))
	for i := 0; i < 100; i++ {
		x, y := r.Float64()*90, r.Float64()*90
		q := spatial.Envelope{MinX: x, MinY: y, MaxX: x + r.Float64()*10, MaxY: y + r.Float64()*10}
		require.Equal(t, bruteForce(entries, q), sorted(tree.Query(q)), "query %v", q)
	}
}

func TestQTree_RemoveQueryConsistency(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	entries := randomEntries(r, 300)
	tree := newTestTree(t, 4)
	tree.InsertBulk(entries)
	require.Equal(t, 300, tree.Len())

	remaining := entries
	for len(remaining) > 0 {
		victim := remaining[0]
		remaining = remaining[1:]

		require.True(t, tree.Remove(victim.Value))
		require.NotContains(t, tree.Query(victim.Envelope), victim.Value)
		require.False(t, tree.Remove(victim.Value), "second removal must fail")

		if len(remaining)%50 == 0 {
			require.Equal(t, bruteForce(remaining, tree.Envelope()), sorted(tree.Query(tree.Envelope())))
		}
	}
	require.True(t, tree.root.isEmpty(), "removing everything must collapse to an empty leaf")
}

func TestQTree_Clear(t *testing.T) {
	tree := newTestTree(t, 4)
	tree.InsertBulk(randomEntries(rand.New(rand.NewSource(1)), 100))

	tree.Clear()
	require.Empty(t, tree.Query(tree.Envelope()))
	tree.Clear()
	require.Empty(t, tree.Query(tree.Envelope()))
	require.Zero(t, tree.Len())

	require.True(t, tree.Insert(unitBox(5, 5), 77))
	require.Equal(t, []int64{77}, tree.Query(unitBox(5, 5)))
}

func TestQTree_MaxDepthStopsSplitting(t *testing.T) {
	// At depth 24 a cell of this root is still about 60 units wide, so points
	// one unit apart can never be separated.
	tree := New[int64](spatial.Envelope{MaxX: 1e9, MaxY: 1e9}, 1)
	for i := 0; i < 10; i++ {
		p := float64(i)
		require.True(t, tree.Insert(spatial.Envelope{MinX: p, MinY: p, MaxX: p, MaxY: p}, int64(i+1)))
	}
	require.Equal(t, MaxDepth-1, tree.Depth())
	require.Len(t, tree.Query(spatial.Envelope{MaxX: 10, MaxY: 10}), 10)
}

func TestQTree_LeafCounterInvariantPanics(t *testing.T) {
	tree := newTestTree(t, 4)
	require.True(t, tree.Insert(unitBox(1, 1), 1))
	tree.root.leafCount = 3

	require.PanicsWithError(t,
		(&InvariantError{Envelope: tree.root.env, Depth: 0, Msg: "leaf counter 3, entries hold 1 distinct envelopes"}).Error(),
		func() { tree.Remove(1) })
}

func TestQTree_SamePayloadUnderTwoEnvelopesSurvivesMerge(t *testing.T) {
	tree := newTestTree(t, 2)
	near := unitBox(1, 1)
	far := unitBox(90, 90)

	require.True(t, tree.Insert(near, 7))
	require.True(t, tree.Insert(far, 7))
	require.True(t, tree.Insert(unitBox(80, 10), 8))
	require.False(t, tree.root.isLeaf())

	require.True(t, tree.Remove(8))
	require.True(t, tree.root.isLeaf(), "children must merge back into the root")
	require.Len(t, tree.root.leafObjects, 2)
	require.Equal(t, []int64{7}, tree.Query(far))
	require.Equal(t, []int64{7}, tree.Query(near))
	require.Equal(t, 2, tree.Len())

	require.True(t, tree.Remove(7))
	require.Equal(t, 1, tree.Len())
	require.Equal(t, []int64{7}, tree.Query(tree.Envelope()), "one envelope of 7 must remain")

	require.True(t, tree.Remove(7))
	require.Zero(t, tree.Len())
	require.Empty(t, tree.Query(tree.Envelope()))
	require.False(t, tree.Remove(7))
	require.True(t, tree.root.isEmpty())
}

func TestQTree_IdenticalInsertsSurviveSplitAndMerge(t *testing.T) {
	tree := newTestTree(t, 1)
	center := spatial.Envelope{MinX: 49, MinY: 49, MaxX: 51, MaxY: 51}

	require.True(t, tree.Insert(center, 5))
	require.True(t, tree.Insert(center, 5))
	require.True(t, tree.Insert(unitBox(10, 10), 6))
	require.False(t, tree.root.isLeaf())

	require.True(t, tree.Remove(6))
	require.True(t, tree.root.isLeaf())
	require.Len(t, tree.root.leafObjects, 2, "both inserts of 5 must survive the merge")
	require.Equal(t, 2, tree.Len())

	require.True(t, tree.Remove(5))
	require.Equal(t, 1, tree.Len())
	require.Equal(t, []int64{5}, tree.Query(center))

	require.True(t, tree.Remove(5))
	require.Zero(t, tree.Len())
	require.True(t, tree.root.isEmpty())
}

func TestQTree_RepeatedPayloadsKeepLenConsistent(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	entries := randomEntries(r, 200)
	counts := make(map[int64]int)
	for i := range entries {
		entries[i].Value = int64(i%10 + 1)
		counts[entries[i].Value]++
	}

	tree := newTestTree(t, 3)
	tree.InsertBulk(entries)
	require.Equal(t, len(entries), tree.Len())

	live := func() []int64 {
		var out []int64
		for v, c := range counts {
			if c > 0 {
				out = append(out, v)
			}
		}
		return sorted(out)
	}

	total := len(entries)
	for v := int64(1); v <= 10; v++ {
		for counts[v] > 0 {
			require.True(t, tree.Remove(v))
			counts[v]--
			total--
			require.Equal(t, total, tree.Len())
		}
		require.False(t, tree.Remove(v))
		require.Equal(t, live(), sorted(tree.Query(tree.Envelope())))
	}
	require.True(t, tree.root.isEmpty())
}
