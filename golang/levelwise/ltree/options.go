package ltree

import (
	"fmt"
	"strings"
)

//Termination selects when a freshly split child counts as "won't split further".
type Termination int

const (
	//SettleEither settles a child that is pure or holds fewer than MinSplit rows.
	SettleEither Termination = iota
	//SettleStrict settles a child only when it is pure and holds fewer than MinSplit rows.
	SettleStrict
)

func (t Termination) String() string {
	if t == SettleStrict {
		return "strict"
	}
	return "either"
}

//ParseTermination converts a configuration string into a Termination policy.
func ParseTermination(name string) (Termination, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "either":
		return SettleEither, nil
	case "strict":
		return SettleStrict, nil
	}
	return SettleEither, fmt.Errorf("unknown termination policy %q", name)
}

//Options contains the options of one tree induction.
type Options struct {
	MaxDepth        int //root is at depth 0
	MinSplit        int
	MinBucket       int
	MaxSurrogates   int
	Impurity        ImpurityMetric
	IsRegression    bool
	NLabels         int
	NRandomFeatures int //0 evaluates every feature
	WeightsAsRows   bool
	Termination     Termination
	//FinalizeSettledLeaves finishes settled children right away instead of
	//waiting for the whole induction to stop.
	FinalizeSettledLeaves bool
	Seed                  uint64
}

//DefaultOptions returns the options of a binary classification tree.
func DefaultOptions() *Options {
	return &Options{
		MaxDepth:  7,
		MinSplit:  20,
		MinBucket: 7,
		Impurity:  Gini,
		NLabels:   2,
	}
}

//Layout returns the statistics layout implied by the options.
func (o *Options) Layout() StatsLayout {
	return StatsLayout{IsRegression: o.IsRegression, NLabels: o.NLabels, Metric: o.Impurity}
}

//Clone returns a copy of the options.
func (o *Options) Clone() *Options {
	ret := *o
	return &ret
}

//Check validates the options.
func (o *Options) Check() error {
	n := fmt.Errorf
	if o.MaxDepth < 0 {
		return n("MaxDepth %d", o.MaxDepth)
	}
	if o.MinSplit < 0 {
		return n("MinSplit %d", o.MinSplit)
	}
	if o.MinBucket < 0 {
		return n("MinBucket %d", o.MinBucket)
	}
	if o.MaxSurrogates < 0 {
		return n("MaxSurrogates %d", o.MaxSurrogates)
	}
	if o.NRandomFeatures < 0 {
		return n("NRandomFeatures %d", o.NRandomFeatures)
	}
	if !o.IsRegression {
		if o.NLabels < 1 {
			return n("NLabels %d", o.NLabels)
		}
		if o.Impurity == NoImpurity {
			return ErrNoImpurity
		}
	}
	return nil
}

//String returns a string representation of the options.
func (o *Options) String() string {
	kind := fmt.Sprintf("classification %d labels/%s", o.NLabels, o.Impurity)
	if o.IsRegression {
		kind = "regression"
	}
	return fmt.Sprintf("%s %d md/%d ms/%d mb/%d surr/%d rf/%s", kind, o.MaxDepth, o.MinSplit, o.MinBucket,
		o.MaxSurrogates, o.NRandomFeatures, o.Termination)
}

//minBucket is the effective bucket floor, a child always gets at least one row.
func (o *Options) minBucket() float64 {
	if o.MinBucket == 0 {
		return 1
	}
	return float64(o.MinBucket)
}

//ShouldSplit applies the row count and depth gates to a candidate split of a node
//in a tree of the given depth (root-only tree has depth 1).
func (o *Options) ShouldSplit(combined []float64, treeDepth int) bool {
	layout := o.Layout()
	sps := layout.PerSplit()
	trueCount := layout.Count(combined[:sps])
	falseCount := layout.Count(combined[sps : 2*sps])
	return trueCount+falseCount >= float64(o.MinSplit) &&
		trueCount >= o.minBucket() &&
		falseCount >= o.minBucket() &&
		treeDepth <= o.MaxDepth
}

//ShouldSplitWeights is ShouldSplit on weighted counts without the depth gate.
func (o *Options) ShouldSplitWeights(combined []float64) bool {
	layout := o.Layout()
	sps := layout.PerSplit()
	trueCount := layout.WeightedCount(combined[:sps])
	falseCount := layout.WeightedCount(combined[sps : 2*sps])
	return trueCount+falseCount >= float64(o.MinSplit) &&
		trueCount >= o.minBucket() &&
		falseCount >= o.minBucket()
}
