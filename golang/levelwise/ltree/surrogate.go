package ltree

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"gorgonia.org/tensor"
)

//SurrogateAccumulator collects, for every split node of the layer above the frontier, how often each
//alternative candidate split sends a row the same way as the primary split. The agreement tensors
//have shape (nodes, splits, 2): index 0 counts forward agreement, index 1 reverse agreement.
type SurrogateAccumulator struct {
	NRows      int64
	Terminated bool
	err        error

	tree       *Tree
	schema     Schema
	catOffsets []int
	nNodes     int

	catAgree *tensor.Dense
	conAgree *tensor.Dense
}

func newAgreementTensor(nodes, splits int) *tensor.Dense {
	if splits == 0 {
		return nil
	}
	return tensor.New(tensor.WithShape(nodes, splits, 2), tensor.Of(tensor.Float64))
}

//agreementPair returns the (forward, reverse) counters of one candidate split.
func agreementPair(agree *tensor.Dense, node, split int) []float64 {
	strides := agree.Strides()
	offset := node*strides[0] + split*strides[1]
	return agree.Data().([]float64)[offset : offset+2]
}

//NewSurrogateAccumulator creates an empty surrogate accumulator for the layer above the frontier.
func NewSurrogateAccumulator(tree *Tree, schema Schema) (*SurrogateAccumulator, error) {
	if tree.Depth < 2 {
		return nil, fmt.Errorf("%w: a tree of depth %d has no split layer", ErrFrontierMismatch, tree.Depth)
	}
	nNodes := 1 << (tree.Depth - 2)
	return &SurrogateAccumulator{
		tree:       tree,
		schema:     schema,
		catOffsets: schema.catOffsets(),
		nNodes:     nNodes,
		catAgree:   newAgreementTensor(nNodes, schema.TotalCatLevels()),
		conAgree:   newAgreementTensor(nNodes, schema.NCon()*schema.NBins()),
	}, nil
}

//Err returns the error that terminated the accumulator.
func (sa *SurrogateAccumulator) Err() error {
	if !sa.Terminated {
		return nil
	}
	if sa.err == nil {
		return ErrTerminated
	}
	return sa.err
}

func (sa *SurrogateAccumulator) terminate(err error) {
	if !sa.Terminated {
		log.Print("surrogate accumulator terminated: ", err)
	}
	sa.Terminated = true
	if sa.err == nil {
		sa.err = err
	}
}

//Accumulate adds one row with the given duplicate count. Only rows whose parent sits in the
//layer above the frontier and whose primary split value is present contribute.
func (sa *SurrogateAccumulator) Accumulate(row Row, dupCount float64) error {
	if sa.Terminated {
		return ErrTerminated
	}
	if len(row.Cat) != sa.schema.NCat() || len(row.Con) != sa.schema.NCon() {
		err := fmt.Errorf("%w: %d categorical and %d continuous values", ErrFeatureCount, len(row.Cat), len(row.Con))
		sa.terminate(err)
		return err
	}

	leaf := sa.tree.Search(row)
	if leaf == 0 {
		return nil
	}
	parent := ParentIndex(leaf)
	nodeIndex := parent - LayerStart(sa.tree.Depth-1)
	if nodeIndex < 0 {
		// surrogates of earlier layers are already trained
		return nil
	}
	node := sa.tree.Nodes[parent]
	primary, ok := node.primaryValue(row)
	if !ok {
		return nil
	}
	isPrimaryTrue := primary <= node.Threshold

	add := func(pair []float64, isSurrogateTrue bool) {
		if isSurrogateTrue == isPrimaryTrue {
			pair[0] += dupCount
		} else {
			pair[1] += dupCount
		}
	}
	for f, value := range row.Cat {
		if (node.IsCategorical && f == node.FeatureIndex) || IsMissingCat(value) {
			continue
		}
		for v := 0; v < sa.schema.CatLevels[f]; v++ {
			add(agreementPair(sa.catAgree, nodeIndex, sa.catOffsets[f]+v), value <= v)
		}
	}
	nBins := sa.schema.NBins()
	for f, value := range row.Con {
		if (!node.IsCategorical && f == node.FeatureIndex) || IsMissingCon(value) {
			continue
		}
		for b := 0; b < nBins; b++ {
			add(agreementPair(sa.conAgree, nodeIndex, f*nBins+b), value <= sa.schema.Threshold(f, b))
		}
	}
	sa.NRows++
	return nil
}

//Consume feeds one pass over src. With weightsAsRows the row weight is the duplicate count.
func (sa *SurrogateAccumulator) Consume(ctx context.Context, src RowSource, weightsAsRows bool) error {
	return src.Scan(ctx, func(row Row) error {
		dupCount := 1.0
		if weightsAsRows {
			dupCount = math.Trunc(row.Weight)
		}
		return sa.Accumulate(row, dupCount)
	})
}

//MergeFrom adds the agreement counts of other into the receiver.
func (sa *SurrogateAccumulator) MergeFrom(other *SurrogateAccumulator) error {
	if sa.Terminated {
		return sa.Err()
	}
	if other.Terminated {
		sa.terminate(other.Err())
		return sa.Err()
	}
	if sa.nNodes != other.nNodes || sa.schema.NBins() != other.schema.NBins() ||
		sa.schema.NCat() != other.schema.NCat() || sa.schema.NCon() != other.schema.NCon() ||
		!sameShape(sa.catAgree, other.catAgree) || !sameShape(sa.conAgree, other.conAgree) {
		sa.terminate(ErrShapeMismatch)
		return ErrShapeMismatch
	}
	for _, pair := range [][2]*tensor.Dense{{sa.catAgree, other.catAgree}, {sa.conAgree, other.conAgree}} {
		if err := addInPlace(pair[0], pair[1]); err != nil {
			sa.terminate(err)
			return err
		}
	}
	sa.NRows += other.NRows
	return nil
}

//bestAgreement finds the split of one candidate feature with the highest agreement, forward and
//reverse directions interleaved per split, first maximum wins.
func bestAgreement(agree *tensor.Dense, node, first, n int) (split int, count float64, reverse bool) {
	count = math.Inf(-1)
	for s := 0; s < n; s++ {
		pair := agreementPair(agree, node, first+s)
		if pair[0] > count {
			split, count, reverse = s, pair[0], false
		}
		if pair[1] > count {
			split, count, reverse = s, pair[1], true
		}
	}
	return
}

//candidates returns the best surrogate of every feature except the primary one, categorical
//features first.
func (sa *SurrogateAccumulator) candidates(nodeIndex int, node TreeNode) []Surrogate {
	var ret []Surrogate
	for f, levels := range sa.schema.CatLevels {
		if levels == 0 || (node.IsCategorical && f == node.FeatureIndex) {
			continue
		}
		level, count, reverse := bestAgreement(sa.catAgree, nodeIndex, sa.catOffsets[f], levels)
		status := SurrCategorical
		if reverse {
			status = -status
		}
		ret = append(ret, Surrogate{FeatureIndex: f, Threshold: float64(level), Status: status, Agreement: count})
	}
	nBins := sa.schema.NBins()
	if nBins == 0 {
		return ret
	}
	for f := 0; f < sa.schema.NCon(); f++ {
		if !node.IsCategorical && f == node.FeatureIndex {
			continue
		}
		bin, count, reverse := bestAgreement(sa.conAgree, nodeIndex, f*nBins, nBins)
		status := SurrContinuous
		if reverse {
			status = -status
		}
		ret = append(ret, Surrogate{FeatureIndex: f, Threshold: sa.schema.Threshold(f, bin), Status: status, Agreement: count})
	}
	return ret
}

//PickSurrogates stores up to tree.MaxSurrogates surrogates on every split node of the layer above
//the frontier, best agreement first. Candidates agreeing less often than the majority branch
//are dropped. The input tree is not modified.
func PickSurrogates(tree *Tree, sa *SurrogateAccumulator) (*Tree, error) {
	if sa.Terminated {
		return tree, sa.Err()
	}
	if sa.tree.Depth != tree.Depth {
		return tree, fmt.Errorf("%w: surrogate statistics of depth %d for a tree of depth %d", ErrFrontierMismatch, sa.tree.Depth, tree.Depth)
	}
	next := tree.Clone()
	layer := LayerRange(tree.Depth - 1)
	for nodeIndex := 0; layer.HasNext(); nodeIndex++ {
		current := layer.GetNext()
		node := &next.Nodes[current]
		if node.FeatureIndex < 0 {
			continue
		}
		candidates := sa.candidates(nodeIndex, *node)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Agreement > candidates[j].Agreement
		})
		majority := next.MajorityCount(current)
		var chosen []Surrogate
		for _, candidate := range candidates {
			if len(chosen) >= next.MaxSurrogates || candidate.Agreement < majority {
				break
			}
			chosen = append(chosen, candidate)
		}
		node.Surrogates = chosen
	}
	return next, nil
}
