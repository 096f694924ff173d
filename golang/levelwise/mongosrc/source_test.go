package mongosrc

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarstars/levelwise_trees/golang/levelwise/ltree"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRowDTO(t *testing.T) {
	raw, err := bson.Marshal(bson.D{
		{Key: "cat", Value: bson.A{2, -5}},
		{Key: "con", Value: bson.A{1.5, nil}},
		{Key: "response", Value: 3.0},
	})
	require.NoError(t, err)

	var dto RowDTO
	require.NoError(t, bson.Unmarshal(raw, &dto))
	row := dto.Row()
	assert.Equal(t, []int{2, ltree.MissingCategory}, row.Cat)
	assert.Equal(t, 1.5, row.Con[0])
	assert.True(t, math.IsNaN(row.Con[1]))
	assert.Equal(t, 3.0, row.Response)
	assert.Equal(t, 1.0, row.Weight)
}

func TestRowDTORoundTrip(t *testing.T) {
	row := ltree.Row{Cat: []int{1}, Con: []float64{math.NaN(), 4}, Response: 1, Weight: 2.5}
	raw, err := bson.Marshal(NewRowDTO(row))
	require.NoError(t, err)

	var dto RowDTO
	require.NoError(t, bson.Unmarshal(raw, &dto))
	back := dto.Row()
	assert.Equal(t, row.Cat, back.Cat)
	assert.True(t, math.IsNaN(back.Con[0]))
	assert.Equal(t, 4.0, back.Con[1])
	assert.Equal(t, 2.5, back.Weight)
}

func TestRanges(t *testing.T) {
	assert.Equal(t, [][2]int64{{0, 3}, {3, 3}, {6, 4}}, ranges(10, 3))
	assert.Equal(t, [][2]int64{{0, 1}, {1, 1}}, ranges(2, 5))
	assert.Equal(t, [][2]int64{{0, 7}}, ranges(7, 0))
}

// TestInduceFromMongo needs a running server, e.g. LEVELWISE_MONGO_URI=mongodb://localhost:27017.
func TestInduceFromMongo(t *testing.T) {
	uri := os.Getenv("LEVELWISE_MONGO_URI")
	if uri == "" {
		t.Skip("LEVELWISE_MONGO_URI is not set")
	}
	ctx := context.Background()
	client, collection, err := Connect(ctx, uri, "levelwise_test", "rows")
	require.NoError(t, err)
	defer func() { _ = client.Disconnect(ctx) }()
	require.NoError(t, collection.Drop(ctx))

	var rows []ltree.Row
	for x := 0; x < 10; x++ {
		label := 0.0
		if x <= 5 {
			label = 1
		}
		rows = append(rows, ltree.Row{Con: []float64{float64(x)}, Response: label, Weight: 1})
	}
	require.NoError(t, Insert(ctx, collection, rows))

	parts, err := New(collection, nil).Partition(ctx, 3)
	require.NoError(t, err)
	require.Len(t, parts, 3)

	opts := ltree.DefaultOptions()
	opts.MinSplit, opts.MinBucket = 2, 1
	tree, err := ltree.Induce(ctx, parts, ltree.Schema{ConSplits: [][]float64{{5}}}, opts)
	require.NoError(t, err)
	assert.Equal(t, 5.0, tree.Nodes[0].Threshold)
	assert.Equal(t, []float64{4, 6, 10}, tree.Nodes[0].Prediction)
}
