package ltree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var binaryLayout = StatsLayout{NLabels: 2, Metric: Gini}

func TestNewTree(t *testing.T) {
	tree := NewTree(binaryLayout, 0)
	assert.Equal(t, 1, tree.Depth)
	require.Len(t, tree.Nodes, 1)
	assert.Equal(t, InProcess, tree.State(0))
	assert.Equal(t, 1, tree.FrontierSize())
	assert.Equal(t, 0, tree.Search(conRow(0, 1)))
}

func TestGrowPreservesContent(t *testing.T) {
	tree := NewTree(binaryLayout, 0)
	tree.Nodes[0].Prediction = []float64{4, 6, 10}

	grown := tree.Grow()
	assert.Equal(t, 2, grown.Depth)
	require.Len(t, grown.Nodes, 3)
	assert.Equal(t, tree.Nodes[0], grown.Nodes[0])
	for _, ind := range []int{1, 2} {
		assert.Equal(t, NonExistent, grown.State(ind))
		assert.Equal(t, []float64{0, 0, 0}, grown.Nodes[ind].Prediction)
	}
	assert.Equal(t, 1, tree.Depth, "the receiver must not change")

	grown.Nodes[0].Prediction[0] = 100
	assert.Equal(t, 4.0, tree.Nodes[0].Prediction[0])
}

func TestNodeArithmetic(t *testing.T) {
	assert.Equal(t, 1, TrueChild(0))
	assert.Equal(t, 2, FalseChild(0))
	assert.Equal(t, 0, ParentIndex(2))
	assert.Equal(t, 2, ParentIndex(6))
	assert.Equal(t, 7, NodeCount(3))
	assert.Equal(t, 3, LayerStart(3))
	assert.Equal(t, 4, LayerRange(3).Len())
	require.Panics(t, func() { ParentIndex(0) })
}

//splitTree returns a depth 2 tree split on continuous feature 0 at 5.
func splitTree() *Tree {
	tree := NewTree(binaryLayout, 0).Grow()
	tree.UpdatePrimarySplit(0, 0, 5, false, []float64{0, 6, 6}, []float64{4, 0, 4}, 2, SettleEither)
	return tree
}

func TestUpdatePrimarySplit(t *testing.T) {
	tree := NewTree(binaryLayout, 0).Grow()
	settled := tree.UpdatePrimarySplit(0, 0, 5, false, []float64{0, 6, 6}, []float64{4, 0, 4}, 2, SettleEither)
	assert.True(t, settled)
	assert.Equal(t, Split, tree.State(0))
	assert.Equal(t, InProcess, tree.State(1))
	assert.Equal(t, InProcess, tree.State(2))
	assert.Equal(t, [2]float64{6, 4}, tree.Nodes[0].NonNullSplitCount)
	assert.Equal(t, 6.0, tree.MajorityCount(0))
	assert.True(t, tree.MajoritySplit(0))

	strict := NewTree(binaryLayout, 0).Grow()
	assert.False(t, strict.UpdatePrimarySplit(0, 0, 5, false, []float64{0, 6, 6}, []float64{4, 0, 4}, 2, SettleStrict))
	assert.True(t, strict.UpdatePrimarySplit(0, 0, 5, false, []float64{0, 6, 6}, []float64{4, 0, 4}, 10, SettleStrict))

	shallow := NewTree(binaryLayout, 0)
	require.Panics(t, func() {
		shallow.UpdatePrimarySplit(0, 0, 5, false, []float64{0, 6, 6}, []float64{4, 0, 4}, 2, SettleEither)
	})
}

func TestSearch(t *testing.T) {
	tree := splitTree()
	assert.Equal(t, 1, tree.Search(conRow(0, 5)))
	assert.Equal(t, 2, tree.Search(conRow(0, 5.5)))
	assert.Equal(t, 1.0, tree.PredictResponse(conRow(0, 1)))
	assert.Equal(t, []float64{1, 0}, tree.Predict(conRow(0, 9)))

	// no surrogates: a missing value follows the majority branch
	assert.Equal(t, 1, tree.Search(conRow(0, nan)))
}

func TestSearchPanics(t *testing.T) {
	tree := NewTree(binaryLayout, 0)
	tree.Nodes[0].FeatureIndex = NodeNonExisting
	require.Panics(t, func() { tree.Search(conRow(0, 1)) })

	unallocated := NewTree(binaryLayout, 0)
	unallocated.Nodes[0].FeatureIndex = 0
	require.Panics(t, func() { unallocated.Search(conRow(0, 1)) })
}

func TestMajorityOnLeafPanics(t *testing.T) {
	tree := splitTree()
	require.Panics(t, func() { tree.MajorityCount(1) })
	require.Panics(t, func() { tree.MajoritySplit(2) })
}

func TestSurrogateRouting(t *testing.T) {
	tree := NewTree(binaryLayout, 2).Grow()
	tree.UpdatePrimarySplit(0, 0, 3, false, []float64{2, 0, 2}, []float64{0, 3, 3}, 2, SettleEither)
	tree.Nodes[0].Surrogates = []Surrogate{
		{FeatureIndex: 0, Threshold: 1, Status: -SurrCategorical, Agreement: 5},
		{FeatureIndex: 1, Threshold: 3, Status: SurrContinuous, Agreement: 4},
	}
	row := func(cat int, a, b float64) Row {
		return Row{Cat: []int{cat}, Con: []float64{a, b}, Weight: 1}
	}
	// the primary value wins when present
	assert.Equal(t, 1, tree.Search(row(0, 1, 9)))
	// reversed categorical surrogate: 0 <= 1 is true, reversed to false
	assert.Equal(t, 2, tree.Search(row(0, nan, 1)))
	assert.Equal(t, 1, tree.Search(row(2, nan, 9)))
	// first surrogate missing, second one used
	assert.Equal(t, 1, tree.Search(row(MissingCategory, nan, 2)))
	assert.Equal(t, 2, tree.Search(row(MissingCategory, nan, 4)))
	// everything missing: majority branch
	assert.Equal(t, 2, tree.Search(row(MissingCategory, nan, nan)))
}

func TestTreeIntrospection(t *testing.T) {
	tree := splitTree()
	tree.Nodes[0].Prediction = []float64{4, 6, 10}
	assert.Equal(t, []int{1, 2}, tree.Leaves())
	assert.Equal(t, 10.0, tree.NodeCount(0))
	assert.Equal(t, 10.0, tree.NodeWeightedCount(0))
	assert.Equal(t, 4.0, tree.Risk(0))
	assert.Equal(t, 4.0, tree.Misclassification(0))
	assert.Equal(t, 0.0, tree.TotalRisk())
}

func TestRecomputeDepth(t *testing.T) {
	tree := NewTree(binaryLayout, 0).Grow().Grow()
	assert.Equal(t, 1, tree.RecomputeDepth())
	assert.Len(t, tree.Nodes, 1)

	grown := splitTree().Grow()
	assert.Equal(t, 2, grown.RecomputeDepth())
	assert.Len(t, grown.Nodes, 3)
}

func TestCloneIsDeep(t *testing.T) {
	tree := splitTree()
	tree.Nodes[0].Surrogates = []Surrogate{{FeatureIndex: 1, Threshold: 2, Status: SurrContinuous, Agreement: 3}}
	clone := tree.Clone()
	require.Equal(t, tree, clone)
	clone.Nodes[0].Surrogates[0].Agreement = 7
	clone.Nodes[1].Prediction[1] = 7
	assert.Equal(t, 3.0, tree.Nodes[0].Surrogates[0].Agreement)
	assert.Equal(t, 6.0, tree.Nodes[1].Prediction[1])
}

func TestRange(t *testing.T) {
	r := NewRange(5, 0, -2)
	assert.Equal(t, 3, r.Len())
	var got []int
	for r.HasNext() {
		got = append(got, r.GetNext())
	}
	assert.Equal(t, []int{5, 3, 1}, got)
	assert.Equal(t, 0, NewRange(3, 3, 1).Len())
	assert.Equal(t, 0, LayerRange(0).Len())
}
