package ltree

import (
	"fmt"
	"math"
	"math/rand/v2"
)

//BestSplit contains results of the split selection algorithm for one frontier leaf.
type BestSplit struct {
	gain          float64
	featureIndex  int
	bin           int
	isCategorical bool
	stats         []float64 // true-branch stats followed by false-branch stats
	validSplit    bool
}

//consider replaces the current best split when gain is strictly greater, so the first seen wins ties.
func (best *BestSplit) consider(gain float64, feature, bin int, isCategorical bool, stats []float64) {
	if best.validSplit && gain <= best.gain {
		return
	}
	best.gain = gain
	best.featureIndex = feature
	best.bin = bin
	best.isCategorical = isCategorical
	best.stats = stats
	best.validSplit = true
}

//threshold converts the chosen bin into the split threshold.
func (best *BestSplit) threshold(schema Schema) float64 {
	if best.isCategorical {
		return float64(best.bin)
	}
	return schema.Threshold(best.featureIndex, best.bin)
}

//TheBestSplit scans the candidate features of one frontier leaf. Features are numbered with the
//categorical ones first and the continuous ones after them.
func (acc *Accumulator) TheBestSplit(leaf int, features []int) BestSplit {
	best := BestSplit{gain: math.Inf(-1)}
	nCat := acc.schema.NCat()
	for _, f := range features {
		if f < nCat {
			for v := 0; v < acc.schema.CatLevels[f]; v++ {
				stats := acc.CatSplit(leaf, f, v)
				best.consider(acc.layout.ImpurityGain(stats), f, v, true, stats)
			}
			continue
		}
		conF := f - nCat
		for b := 0; b < acc.schema.NBins(); b++ {
			stats := acc.ConSplit(leaf, conF, b)
			best.consider(acc.layout.ImpurityGain(stats), conF, b, false, stats)
		}
	}
	return best
}

//allFeatures enumerates every candidate feature in scan order.
func allFeatures(schema Schema) []int {
	features := make([]int, schema.NCat()+schema.NCon())
	for ind := range features {
		features[ind] = ind
	}
	return features
}

//Expand selects the best split of every frontier leaf of tree and grows the tree by one level.
//The input tree is never modified; the returned tree replaces it. The boolean reports whether
//induction is finished, in which case every in-process leaf has been finalized.
func Expand(tree *Tree, acc *Accumulator, opts *Options) (*Tree, bool, error) {
	features := allFeatures(acc.schema)
	return expand(tree, acc, opts, func() []int { return features })
}

//ExpandRandom is Expand evaluating, for every leaf, only the first opts.NRandomFeatures features
//of a fresh random permutation of all features.
func ExpandRandom(tree *Tree, acc *Accumulator, opts *Options, rng *rand.Rand) (*Tree, bool, error) {
	total := acc.schema.NCat() + acc.schema.NCon()
	n := opts.NRandomFeatures
	if n <= 0 || n > total {
		n = total
	}
	return expand(tree, acc, opts, func() []int { return rng.Perm(total)[:n] })
}

func expand(tree *Tree, acc *Accumulator, opts *Options, candidates func() []int) (*Tree, bool, error) {
	if err := opts.Check(); err != nil {
		return tree, false, err
	}
	if acc.Terminated {
		return tree, false, acc.Err()
	}
	if opts.Layout() != tree.Layout {
		return tree, false, fmt.Errorf("%w: options describe %+v, tree holds %+v", ErrShapeMismatch, opts.Layout(), tree.Layout)
	}
	if acc.nLeaves != tree.FrontierSize() || acc.layout != tree.Layout {
		return tree, false, fmt.Errorf("%w: %d leaves for a frontier of %d", ErrFrontierMismatch, acc.nLeaves, tree.FrontierSize())
	}

	next := tree.Clone()
	grown := false
	settled := true
	frontier := LayerRange(tree.Depth)
	for leaf := 0; frontier.HasNext(); leaf++ {
		current := frontier.GetNext()
		if next.Nodes[current].FeatureIndex != InProcessLeaf {
			continue
		}
		copy(next.Nodes[current].Prediction, acc.NodeStats(leaf))

		best := acc.TheBestSplit(leaf, candidates())
		if !best.validSplit || best.gain <= 0 || !opts.ShouldSplit(best.stats, tree.Depth) {
			next.Nodes[current].FeatureIndex = FinishedLeaf
			continue
		}
		if !grown {
			next = next.Grow()
			grown = true
		}
		sps := next.Layout.PerSplit()
		trueStats, falseStats := best.stats[:sps], best.stats[sps:2*sps]
		settled = next.UpdatePrimarySplit(current, best.featureIndex, best.threshold(acc.schema), best.isCategorical,
			trueStats, falseStats, opts.MinSplit, opts.Termination) && settled
		if opts.FinalizeSettledLeaves {
			if next.childSettled(trueStats, opts.MinSplit, opts.Termination) {
				next.Nodes[TrueChild(current)].FeatureIndex = FinishedLeaf
			}
			if next.childSettled(falseStats, opts.MinSplit, opts.Termination) {
				next.Nodes[FalseChild(current)].FeatureIndex = FinishedLeaf
			}
		}
	}

	// tree depth counts the root as 1 while MaxDepth counts it as 0
	finished := !grown || next.Depth >= opts.MaxDepth+1 || settled || !next.hasInProcess()
	if finished {
		next.finalize()
	}
	return next, finished, nil
}
