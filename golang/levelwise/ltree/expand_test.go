package ltree

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPureLeftSplit(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{5}}}
	tree := NewTree(binaryLayout, 0)
	before := tree.Clone()
	acc := accumulate(tree, schema, pureLeftRows())

	next, finished, err := Expand(tree, acc, classificationOptions())
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, before, tree, "the input tree must not change")

	assert.Equal(t, 2, next.Depth)
	root := next.Nodes[0]
	assert.Equal(t, 0, root.FeatureIndex)
	assert.False(t, root.IsCategorical)
	assert.Equal(t, 5.0, root.Threshold)
	assert.Equal(t, []float64{4, 6, 10}, root.Prediction)
	assert.Equal(t, Finished, next.State(1))
	assert.Equal(t, Finished, next.State(2))
	assert.Equal(t, 1.0, next.PredictResponse(conRow(0, 2)))
	assert.Equal(t, 0.0, next.PredictResponse(conRow(0, 7)))
}

func TestExpandMaxDepthZero(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{5}}}
	tree := NewTree(binaryLayout, 0)
	opts := classificationOptions()
	opts.MaxDepth = 0

	next, finished, err := Expand(tree, accumulate(tree, schema, pureLeftRows()), opts)
	require.NoError(t, err)
	assert.True(t, finished)
	require.Len(t, next.Nodes, 1)
	assert.Equal(t, Finished, next.State(0))
	assert.Equal(t, []float64{4, 6, 10}, next.Nodes[0].Prediction)
}

func TestExpandNoPositiveGain(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{5}}}
	tree := NewTree(binaryLayout, 0)
	rows := rowSlice{conRow(1, 1), conRow(1, 2), conRow(1, 7), conRow(1, 8)}

	next, finished, err := Expand(tree, accumulate(tree, schema, rows), classificationOptions())
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, 1, next.Depth)
	assert.Equal(t, Finished, next.State(0))
}

func TestExpandMinBucket(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{0}}}
	tree := NewTree(binaryLayout, 0)
	rows := rowSlice{conRow(1, 0), conRow(0, 1), conRow(0, 2), conRow(0, 3)}
	opts := classificationOptions()
	opts.MinBucket = 2

	next, finished, err := Expand(tree, accumulate(tree, schema, rows), opts)
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, Finished, next.State(0))
}

func TestExpandCategorical(t *testing.T) {
	schema := Schema{CatLevels: []int{3}}
	tree := NewTree(binaryLayout, 0)
	rows := rowSlice{catRow(0, 0), catRow(0, 0), catRow(0, 1), catRow(0, 1), catRow(1, 2), catRow(1, 2), catRow(1, 2)}

	next, finished, err := Expand(tree, accumulate(tree, schema, rows), classificationOptions())
	require.NoError(t, err)
	assert.True(t, finished)
	assert.True(t, next.Nodes[0].IsCategorical)
	assert.Equal(t, 0, next.Nodes[0].FeatureIndex)
	assert.Equal(t, 1.0, next.Nodes[0].Threshold)
	assert.Equal(t, []float64{4, 0, 4}, next.Nodes[1].Prediction)
	assert.Equal(t, []float64{0, 3, 3}, next.Nodes[2].Prediction)
}

func TestExpandRegression(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{2, 5, 7}}}
	opts := classificationOptions()
	opts.IsRegression = true
	opts.Impurity = NoImpurity
	tree := NewTree(opts.Layout(), 0)

	rows := make(rowSlice, 0, 10)
	for x := 0; x < 10; x++ {
		y := 20.0
		if x <= 5 {
			y = 10
		}
		rows = append(rows, conRow(y, float64(x)))
	}
	next, finished, err := Expand(tree, accumulate(tree, schema, rows), opts)
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, 5.0, next.Nodes[0].Threshold)
	assert.Equal(t, 10.0, next.PredictResponse(conRow(0, 3)))
	assert.Equal(t, 20.0, next.PredictResponse(conRow(0, 9)))
	assert.InDelta(t, 0, next.TotalRisk(), 1e-9)
}

//rightMixedRows: label 0 for x <= 3, the right side stays mixed.
func rightMixedRows() rowSlice {
	labels := []float64{0, 0, 0, 0, 1, 1, 1, 0, 1, 1}
	rows := make(rowSlice, len(labels))
	for x, label := range labels {
		rows[x] = conRow(label, float64(x))
	}
	return rows
}

func TestExpandContinuesWhileChildrenSplit(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{3, 6}}}
	rows := rightMixedRows()
	tree := NewTree(binaryLayout, 0)
	opts := classificationOptions()

	next, finished, err := Expand(tree, accumulate(tree, schema, rows), opts)
	require.NoError(t, err)
	assert.False(t, finished)
	assert.Equal(t, 3.0, next.Nodes[0].Threshold)
	assert.Equal(t, InProcess, next.State(1))
	assert.Equal(t, InProcess, next.State(2))

	opts.FinalizeSettledLeaves = true
	eager, finished, err := Expand(tree, accumulate(tree, schema, rows), opts)
	require.NoError(t, err)
	assert.False(t, finished)
	assert.Equal(t, Finished, eager.State(1))
	assert.Equal(t, InProcess, eager.State(2))

	deeper, _, err := Expand(eager, accumulate(eager, schema, rows), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, deeper.Depth)
	assert.Equal(t, Split, deeper.State(2))
	assert.Equal(t, 6.0, deeper.Nodes[2].Threshold)
	assert.Equal(t, NonExistent, deeper.State(3))
	assert.Equal(t, []float64{0, 3, 3}, deeper.Nodes[5].Prediction)
}

func TestExpandStrictTermination(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{5}}}
	rows := pureLeftRows()
	tree := NewTree(binaryLayout, 0)
	opts := classificationOptions()
	opts.Termination = SettleStrict

	next, finished, err := Expand(tree, accumulate(tree, schema, rows), opts)
	require.NoError(t, err)
	assert.False(t, finished)
	assert.Equal(t, InProcess, next.State(1))

	last, finished, err := Expand(next, accumulate(next, schema, rows), opts)
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, 2, last.Depth)
	assert.Equal(t, Finished, last.State(1))
	assert.Equal(t, Finished, last.State(2))
}

func TestExpandStopsAtMaxDepth(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{3, 6}}}
	rows := rightMixedRows()
	opts := classificationOptions()
	opts.MaxDepth = 1
	tree := NewTree(binaryLayout, 0)

	next, finished, err := Expand(tree, accumulate(tree, schema, rows), opts)
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, 2, next.Depth)
	assert.Equal(t, Finished, next.State(2))
}

func TestExpandFrontierMismatch(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{5}}}
	root := NewTree(binaryLayout, 0)
	acc := accumulate(root, schema, pureLeftRows())

	_, _, err := Expand(splitTree(), acc, classificationOptions())
	assert.ErrorIs(t, err, ErrFrontierMismatch)

	opts := classificationOptions()
	opts.Impurity = Entropy
	_, _, err = Expand(root, acc, opts)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	opts.Impurity = NoImpurity
	_, _, err = Expand(root, acc, opts)
	assert.ErrorIs(t, err, ErrNoImpurity)
}

func TestExpandTieGoesToFirstFeature(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{5}, {5}}}
	rows := make(rowSlice, 0, 10)
	for _, row := range pureLeftRows() {
		rows = append(rows, conRow(row.Response, row.Con[0], row.Con[0]))
	}
	tree := NewTree(binaryLayout, 0)
	next, _, err := Expand(tree, accumulate(tree, schema, rows), classificationOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, next.Nodes[0].FeatureIndex)
}

func TestExpandRandom(t *testing.T) {
	schema := Schema{ConSplits: [][]float64{{5}, {5}, {5}}}
	rows := make(rowSlice, 0, 10)
	for _, row := range pureLeftRows() {
		x := row.Con[0]
		rows = append(rows, conRow(row.Response, 9-x, x, 1))
	}
	tree := NewTree(binaryLayout, 0)
	acc := accumulate(tree, schema, rows)
	opts := classificationOptions()

	// more features than available means every feature
	opts.NRandomFeatures = 10
	all, _, err := ExpandRandom(tree, acc, opts, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, 1, all.Nodes[0].FeatureIndex)

	opts.NRandomFeatures = 1
	first, _, err := ExpandRandom(tree, acc, opts, rand.New(rand.NewPCG(42, 1)))
	require.NoError(t, err)
	again, _, err := ExpandRandom(tree, acc, opts, rand.New(rand.NewPCG(42, 1)))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	for seed := uint64(0); seed < 20; seed++ {
		next, _, err := ExpandRandom(tree, acc, opts, rand.New(rand.NewPCG(seed, 3)))
		require.NoError(t, err)
		// the constant feature 2 never splits
		assert.NotEqual(t, 2, next.Nodes[0].FeatureIndex)
	}
}
