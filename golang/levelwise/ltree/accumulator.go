package ltree

import (
	"context"
	"fmt"
	"log"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

//Accumulator collects, for every frontier leaf of a tree, the statistics of all rows reaching
//the leaf and the per-branch statistics of every candidate split. Accumulators built for the same
//tree and schema over disjoint partitions merge by pointwise addition.
//
//catStats has shape (leaves, total categorical levels, 2, stats) and conStats has shape
//(leaves, continuous features * bins, 2, stats); index 0 of the third axis is the true branch.
type Accumulator struct {
	NRows      int64
	Terminated bool
	err        error

	tree          *Tree
	schema        Schema
	layout        StatsLayout
	catOffsets    []int
	nLeaves       int
	weightsAsRows bool

	nodeStats *mat.Dense
	catStats  *tensor.Dense
	conStats  *tensor.Dense

	rowStats []float64
}

//newStatsTensor allocates a zeroed (leaves, splits, 2, sps) tensor, nil when there is no split.
func newStatsTensor(leaves, splits, sps int) *tensor.Dense {
	if splits == 0 {
		return nil
	}
	return tensor.New(tensor.WithShape(leaves, splits, 2, sps), tensor.Of(tensor.Float64))
}

//NewAccumulator creates an empty accumulator for the frontier of tree.
func NewAccumulator(tree *Tree, schema Schema, weightsAsRows bool) *Accumulator {
	sps := tree.Layout.PerSplit()
	nLeaves := tree.FrontierSize()
	return &Accumulator{
		tree:          tree,
		schema:        schema,
		layout:        tree.Layout,
		catOffsets:    schema.catOffsets(),
		nLeaves:       nLeaves,
		weightsAsRows: weightsAsRows,
		nodeStats:     mat.NewDense(nLeaves, sps, nil),
		catStats:      newStatsTensor(nLeaves, schema.TotalCatLevels(), sps),
		conStats:      newStatsTensor(nLeaves, schema.NCon()*schema.NBins(), sps),
		rowStats:      make([]float64, sps),
	}
}

//Err returns the error that terminated the accumulator.
func (acc *Accumulator) Err() error {
	if !acc.Terminated {
		return nil
	}
	if acc.err == nil {
		return ErrTerminated
	}
	return acc.err
}

func (acc *Accumulator) terminate(err error) {
	if !acc.Terminated {
		log.Print("accumulator terminated: ", err)
	}
	acc.Terminated = true
	if acc.err == nil {
		acc.err = err
	}
}

//NLeaves is the number of frontier leaves the accumulator holds statistics for.
func (acc *Accumulator) NLeaves() int {
	return acc.nLeaves
}

//NodeStats returns the statistics of all rows that reached frontier leaf leaf.
func (acc *Accumulator) NodeStats(leaf int) []float64 {
	return acc.nodeStats.RawRowView(leaf)
}

//statsPair returns the true-branch stats followed by the false-branch stats of one candidate split.
//The slice aliases the tensor storage.
func statsPair(stats *tensor.Dense, leaf, split int) []float64 {
	strides := stats.Strides()
	offset := leaf*strides[0] + split*strides[1]
	return stats.Data().([]float64)[offset : offset+strides[1]]
}

//statsSide returns the stats of one branch of one candidate split.
func statsSide(stats *tensor.Dense, leaf, split int, isTrue bool) []float64 {
	pair := statsPair(stats, leaf, split)
	half := len(pair) / 2
	if isTrue {
		return pair[:half]
	}
	return pair[half:]
}

//CatSplit returns the combined (true, false) stats of categorical feature f at level v.
func (acc *Accumulator) CatSplit(leaf, f, v int) []float64 {
	return statsPair(acc.catStats, leaf, acc.catOffsets[f]+v)
}

//ConSplit returns the combined (true, false) stats of continuous feature f at bin b.
func (acc *Accumulator) ConSplit(leaf, f, b int) []float64 {
	return statsPair(acc.conStats, leaf, f*acc.schema.NBins()+b)
}

//Accumulate adds one row. Rows reaching a finished leaf are ignored. A row with a non-finite
//response or a wrong number of features terminates the accumulator; every later row is dropped.
func (acc *Accumulator) Accumulate(row Row) error {
	if acc.Terminated {
		return ErrTerminated
	}
	if err := acc.schema.checkRow(row, acc.layout); err != nil {
		acc.terminate(err)
		return err
	}
	acc.NRows++

	leaf := acc.tree.Search(row)
	if acc.tree.Nodes[leaf].FeatureIndex != InProcessLeaf {
		return nil
	}
	rowIndex := leaf - LayerStart(acc.tree.Depth)
	if rowIndex < 0 || rowIndex >= acc.nLeaves {
		log.Panicf("in-process leaf %d is outside of the frontier of a tree of depth %d", leaf, acc.tree.Depth)
	}

	stats := acc.rowStats
	acc.layout.RowStats(stats, row.Response, row.Weight, acc.weightsAsRows)
	floats.Add(acc.nodeStats.RawRowView(rowIndex), stats)

	for f, value := range row.Cat {
		if IsMissingCat(value) {
			continue
		}
		for v := 0; v < acc.schema.CatLevels[f]; v++ {
			floats.Add(statsSide(acc.catStats, rowIndex, acc.catOffsets[f]+v, value <= v), stats)
		}
	}
	nBins := acc.schema.NBins()
	for f, value := range row.Con {
		if IsMissingCon(value) {
			continue
		}
		for b := 0; b < nBins; b++ {
			floats.Add(statsSide(acc.conStats, rowIndex, f*nBins+b, value <= acc.schema.Threshold(f, b)), stats)
		}
	}
	return nil
}

//Consume feeds one pass over src into the accumulator and stops at the first row error.
func (acc *Accumulator) Consume(ctx context.Context, src RowSource) error {
	return src.Scan(ctx, acc.Accumulate)
}

func (acc *Accumulator) compatible(other *Accumulator) bool {
	if acc.schema.NBins() != other.schema.NBins() ||
		acc.schema.NCat() != other.schema.NCat() ||
		acc.schema.NCon() != other.schema.NCon() {
		return false
	}
	ar, ac := acc.nodeStats.Dims()
	or, oc := other.nodeStats.Dims()
	if ar != or || ac != oc {
		return false
	}
	return sameShape(acc.catStats, other.catStats) && sameShape(acc.conStats, other.conStats)
}

func sameShape(a, b *tensor.Dense) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Shape().Eq(b.Shape())
}

func addInPlace(dst, src *tensor.Dense) error {
	if dst == nil {
		return nil
	}
	_, err := dst.Add(src, tensor.UseUnsafe())
	return err
}

//MergeFrom adds the statistics of other into the receiver. Accumulators of different shapes
//terminate the receiver, and so does merging a terminated accumulator.
func (acc *Accumulator) MergeFrom(other *Accumulator) error {
	if acc.Terminated {
		return acc.Err()
	}
	if other.Terminated {
		acc.terminate(other.Err())
		return acc.Err()
	}
	if !acc.compatible(other) {
		acc.terminate(ErrShapeMismatch)
		return ErrShapeMismatch
	}
	acc.nodeStats.Add(acc.nodeStats, other.nodeStats)
	if err := addInPlace(acc.catStats, other.catStats); err != nil {
		acc.terminate(err)
		return err
	}
	if err := addInPlace(acc.conStats, other.conStats); err != nil {
		acc.terminate(err)
		return err
	}
	acc.NRows += other.NRows
	return nil
}

//Clone returns a deep copy of the accumulator sharing the tree and the schema.
func (acc *Accumulator) Clone() *Accumulator {
	ret := *acc
	ret.nodeStats = mat.DenseCopyOf(acc.nodeStats)
	if acc.catStats != nil {
		ret.catStats = acc.catStats.Clone().(*tensor.Dense)
	}
	if acc.conStats != nil {
		ret.conStats = acc.conStats.Clone().(*tensor.Dense)
	}
	ret.rowStats = make([]float64, len(acc.rowStats))
	return &ret
}

//Merge returns a new accumulator holding the sum of a and b. Neither input is modified.
func Merge(a, b *Accumulator) (*Accumulator, error) {
	ret := a.Clone()
	if err := ret.MergeFrom(b); err != nil {
		return ret, fmt.Errorf("merge: %w", err)
	}
	return ret, nil
}

//Equal reports whether two accumulators hold identical statistics.
func (acc *Accumulator) Equal(other *Accumulator) bool {
	if !acc.compatible(other) || acc.Terminated != other.Terminated {
		return false
	}
	if !mat.Equal(acc.nodeStats, other.nodeStats) {
		return false
	}
	for _, pair := range [][2]*tensor.Dense{{acc.catStats, other.catStats}, {acc.conStats, other.conStats}} {
		if pair[0] == nil {
			continue
		}
		if !floats.Equal(pair[0].Data().([]float64), pair[1].Data().([]float64)) {
			return false
		}
	}
	return true
}
