package ltree

import (
	"fmt"
	"log"
	"strings"
)

//Node states stored in TreeNode.FeatureIndex. Non-negative values are real feature ids.
const (
	InProcessLeaf   = -1
	FinishedLeaf    = -2
	NodeNonExisting = -3
)

//Surrogate status values. The sign encodes the direction (negative is reversed).
const (
	SurrCategorical = 1
	SurrContinuous  = 2
)

//NodeState is the tagged view of a node.
type NodeState int

const (
	NonExistent NodeState = iota
	InProcess
	Finished
	Split
)

func (s NodeState) String() string {
	return [...]string{"non-existent", "in-process", "finished", "split"}[s]
}

//Surrogate is a secondary split used when the primary split value of a row is missing.
type Surrogate struct {
	FeatureIndex int     `json:"feature_index"`
	Threshold    float64 `json:"threshold"`
	Status       int     `json:"status"`
	Agreement    float64 `json:"agreement"`
}

//IsCategorical reports whether the surrogate splits a categorical feature.
func (s Surrogate) IsCategorical() bool {
	return s.Status == SurrCategorical || s.Status == -SurrCategorical
}

//IsReverse reports whether the surrogate routes rows with value > threshold to the true branch.
func (s Surrogate) IsReverse() bool {
	return s.Status < 0
}

//TreeNode is a node of a tree. Tree is stored in an array, children of node i are 2i+1 (true branch)
//and 2i+2 (false branch). FeatureIndex holds either a feature id or one of the node state sentinels.
type TreeNode struct {
	FeatureIndex      int         `json:"feature_index"`
	IsCategorical     bool        `json:"is_categorical"`
	Threshold         float64     `json:"threshold"`
	NonNullSplitCount [2]float64  `json:"nonnull_split_count"`
	Surrogates        []Surrogate `json:"surrogates,omitempty"`
	Prediction        []float64   `json:"prediction"`
}

//State returns the tagged state of the node.
func (node TreeNode) State() NodeState {
	switch node.FeatureIndex {
	case NodeNonExisting:
		return NonExistent
	case InProcessLeaf:
		return InProcess
	case FinishedLeaf:
		return Finished
	}
	return Split
}

//IsLeaf returns whether this node is an in-process or a finished leaf.
func (node TreeNode) IsLeaf() bool {
	return node.FeatureIndex == InProcessLeaf || node.FeatureIndex == FinishedLeaf
}

func (node TreeNode) clone() TreeNode {
	ret := node
	ret.Prediction = append([]float64(nil), node.Prediction...)
	if node.Surrogates != nil {
		ret.Surrogates = append([]Surrogate(nil), node.Surrogates...)
	}
	return ret
}

func newNonExistingNode(sps int) TreeNode {
	return TreeNode{FeatureIndex: NodeNonExisting, Prediction: make([]float64, sps)}
}

//Tree is a complete binary tree of depth Depth stored as an array of 2^Depth-1 nodes.
//A tree holding only the root has Depth 1.
type Tree struct {
	Depth         int         `json:"depth"`
	Layout        StatsLayout `json:"layout"`
	MaxSurrogates int         `json:"max_surrogates"`
	Nodes         []TreeNode  `json:"nodes"`
}

//NodeCount is the number of nodes of a complete tree of the given depth.
func NodeCount(depth int) int {
	return 1<<depth - 1
}

//TrueChild is the index of the child receiving rows that satisfy the split.
func TrueChild(ind int) int {
	return 2*ind + 1
}

//FalseChild is the index of the child receiving rows that do not satisfy the split.
func FalseChild(ind int) int {
	return 2*ind + 2
}

//ParentIndex is the index of the parent of a non-root node.
func ParentIndex(ind int) int {
	if ind <= 0 {
		log.Panicf("node %d has no parent", ind)
	}
	return (ind - 1) / 2
}

//NewTree creates a tree holding only the root as an in-process leaf.
func NewTree(layout StatsLayout, maxSurrogates int) *Tree {
	root := newNonExistingNode(layout.PerSplit())
	root.FeatureIndex = InProcessLeaf
	return &Tree{Depth: 1, Layout: layout, MaxSurrogates: maxSurrogates, Nodes: []TreeNode{root}}
}

//Clone returns a deep copy of the tree.
func (tree *Tree) Clone() *Tree {
	ret := *tree
	ret.Nodes = make([]TreeNode, len(tree.Nodes))
	for ind, node := range tree.Nodes {
		ret.Nodes[ind] = node.clone()
	}
	return &ret
}

//Grow returns a new tree one level deeper. Nodes of the receiver are copied to the low segment,
//all new nodes are non-existing with zeroed fields. The receiver is not modified.
func (tree *Tree) Grow() *Tree {
	sps := tree.Layout.PerSplit()
	ret := &Tree{Depth: tree.Depth + 1, Layout: tree.Layout, MaxSurrogates: tree.MaxSurrogates}
	ret.Nodes = make([]TreeNode, NodeCount(ret.Depth))
	for ind := range ret.Nodes {
		if ind < len(tree.Nodes) {
			ret.Nodes[ind] = tree.Nodes[ind].clone()
		} else {
			ret.Nodes[ind] = newNonExistingNode(sps)
		}
	}
	return ret
}

//State returns the tagged state of node ind.
func (tree *Tree) State(ind int) NodeState {
	return tree.Nodes[ind].State()
}

//MajorityCount is the greater of the non-null primary split counts of both branches.
func (tree *Tree) MajorityCount(ind int) float64 {
	node := tree.splitNode(ind)
	if node.NonNullSplitCount[0] >= node.NonNullSplitCount[1] {
		return node.NonNullSplitCount[0]
	}
	return node.NonNullSplitCount[1]
}

//MajoritySplit is the branch that received more non-null primary rows, ties go to true.
func (tree *Tree) MajoritySplit(ind int) bool {
	node := tree.splitNode(ind)
	return node.NonNullSplitCount[0] >= node.NonNullSplitCount[1]
}

func (tree *Tree) splitNode(ind int) *TreeNode {
	node := &tree.Nodes[ind]
	if node.FeatureIndex < 0 {
		log.Panicf("requested split counts for node %d in state %s", ind, node.State())
	}
	return node
}

//surrogateSplit routes a row whose primary split value is missing.
func (tree *Tree) surrogateSplit(ind int, row Row) bool {
	for _, surr := range tree.Nodes[ind].Surrogates {
		if surr.FeatureIndex < 0 {
			break
		}
		var response bool
		if surr.IsCategorical() {
			value := row.Cat[surr.FeatureIndex]
			if IsMissingCat(value) {
				continue
			}
			response = float64(value) <= surr.Threshold
		} else {
			value := row.Con[surr.FeatureIndex]
			if IsMissingCon(value) {
				continue
			}
			response = value <= surr.Threshold
		}
		if surr.IsReverse() {
			return !response
		}
		return response
	}
	return tree.MajoritySplit(ind)
}

//primaryValue returns the value of the primary split feature of node and whether it is present.
func (node TreeNode) primaryValue(row Row) (float64, bool) {
	if node.IsCategorical {
		value := row.Cat[node.FeatureIndex]
		return float64(value), !IsMissingCat(value)
	}
	value := row.Con[node.FeatureIndex]
	return value, !IsMissingCon(value)
}

//Search routes a row from the root down to a leaf and returns the index of the leaf.
func (tree *Tree) Search(row Row) int {
	current := 0
	for {
		node := &tree.Nodes[current]
		switch node.FeatureIndex {
		case InProcessLeaf, FinishedLeaf:
			return current
		case NodeNonExisting:
			log.Panicf("search reached non-existing node %d", current)
		}
		var isTrue bool
		if value, ok := node.primaryValue(row); ok {
			isTrue = value <= node.Threshold
		} else {
			isTrue = tree.surrogateSplit(current, row)
		}
		if isTrue {
			current = TrueChild(current)
		} else {
			current = FalseChild(current)
		}
		if current >= len(tree.Nodes) {
			log.Panicf("split node %d has no allocated children", ParentIndex(current))
		}
	}
}

//Predict returns the mean response (regression) or the label proportions (classification)
//of the leaf a row reaches.
func (tree *Tree) Predict(row Row) []float64 {
	return tree.Layout.Predict(tree.Nodes[tree.Search(row)].Prediction)
}

//PredictResponse returns the mean response (regression) or the arg-max label (classification).
func (tree *Tree) PredictResponse(row Row) float64 {
	return tree.Layout.Response(tree.Nodes[tree.Search(row)].Prediction)
}

//childSettled reports whether a freshly created child won't be split any further.
func (tree *Tree) childSettled(stats []float64, minSplit int, policy Termination) bool {
	pure := tree.Layout.IsPure(stats)
	small := tree.Layout.Count(stats) < float64(minSplit)
	if policy == SettleStrict {
		return pure && small
	}
	return pure || small
}

//UpdatePrimarySplit commits a split of node ind, makes both children in-process leaves seeded
//with the branch statistics and records the non-null counts. It returns whether both children
//won't split further.
func (tree *Tree) UpdatePrimarySplit(ind, feature int, threshold float64, isCategorical bool,
	trueStats, falseStats []float64, minSplit int, policy Termination) bool {
	trueInd, falseInd := TrueChild(ind), FalseChild(ind)
	if falseInd >= len(tree.Nodes) {
		log.Panicf("node %d has no room for children in a tree of depth %d", ind, tree.Depth)
	}
	node := &tree.Nodes[ind]
	node.FeatureIndex = feature
	node.IsCategorical = isCategorical
	node.Threshold = threshold

	tree.Nodes[trueInd].FeatureIndex = InProcessLeaf
	tree.Nodes[trueInd].Prediction = append([]float64(nil), trueStats...)
	tree.Nodes[falseInd].FeatureIndex = InProcessLeaf
	tree.Nodes[falseInd].Prediction = append([]float64(nil), falseStats...)

	//branch stats only hold rows with a non-null primary value
	node.NonNullSplitCount[0] = tree.Layout.Count(trueStats)
	node.NonNullSplitCount[1] = tree.Layout.Count(falseStats)

	return tree.childSettled(trueStats, minSplit, policy) &&
		tree.childSettled(falseStats, minSplit, policy)
}

//finalize marks every in-process leaf as finished.
func (tree *Tree) finalize() {
	for ind := range tree.Nodes {
		if tree.Nodes[ind].FeatureIndex == InProcessLeaf {
			tree.Nodes[ind].FeatureIndex = FinishedLeaf
		}
	}
}

//hasInProcess reports whether any leaf is still waiting for a split decision.
func (tree *Tree) hasInProcess() bool {
	for _, node := range tree.Nodes {
		if node.FeatureIndex == InProcessLeaf {
			return true
		}
	}
	return false
}

//FrontierSize is the number of nodes of the deepest layer.
func (tree *Tree) FrontierSize() int {
	return 1 << (tree.Depth - 1)
}

//String gives a compact one-line-per-node dump, mostly for debugging.
func (tree *Tree) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("depth %d\n", tree.Depth))
	for ind, node := range tree.Nodes {
		if node.FeatureIndex == NodeNonExisting {
			continue
		}
		if node.IsLeaf() {
			sb.WriteString(fmt.Sprintf("(%d) %s %v\n", ind, node.State(), node.Prediction))
			continue
		}
		kind := "con"
		if node.IsCategorical {
			kind = "cat"
		}
		sb.WriteString(fmt.Sprintf("(%d) %s_%d <= %g %v\n", ind, kind, node.FeatureIndex, node.Threshold, node.Prediction))
	}
	return sb.String()
}
