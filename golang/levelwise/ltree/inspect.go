package ltree

//NodeCount is the number of (unweighted) rows that reached node ind during induction.
func (tree *Tree) NodeCount(ind int) float64 {
	return tree.Layout.Count(tree.Nodes[ind].Prediction)
}

//NodeWeightedCount is the sum of the weights of the rows that reached node ind.
func (tree *Tree) NodeWeightedCount(ind int) float64 {
	return tree.Layout.WeightedCount(tree.Nodes[ind].Prediction)
}

//Risk of node ind: the weighted sum of squared deviations for regression,
//the misclassified weight for classification.
func (tree *Tree) Risk(ind int) float64 {
	return tree.Layout.Risk(tree.Nodes[ind].Prediction)
}

//Misclassification is the weight of node ind not belonging to its majority label.
func (tree *Tree) Misclassification(ind int) float64 {
	return tree.Layout.Misclassification(tree.Nodes[ind].Prediction)
}

//Leaves returns the indices of all leaves, in-process and finished, in array order.
func (tree *Tree) Leaves() []int {
	var leaves []int
	for ind, node := range tree.Nodes {
		if node.IsLeaf() {
			leaves = append(leaves, ind)
		}
	}
	return leaves
}

//RecomputeDepth shrinks the tree to its deepest layer holding at least one existing node
//and returns the new depth.
func (tree *Tree) RecomputeDepth() int {
	depth := 1
	for layer := tree.Depth; layer > 1; layer-- {
		existing := false
		for r := LayerRange(layer); r.HasNext(); {
			if tree.Nodes[r.GetNext()].FeatureIndex != NodeNonExisting {
				existing = true
				break
			}
		}
		if existing {
			depth = layer
			break
		}
	}
	tree.Depth = depth
	tree.Nodes = tree.Nodes[:NodeCount(depth)]
	return depth
}

//TotalRisk sums the risk over all leaves.
func (tree *Tree) TotalRisk() float64 {
	total := 0.0
	for _, leaf := range tree.Leaves() {
		total += tree.Risk(leaf)
	}
	return total
}
