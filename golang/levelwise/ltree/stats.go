package ltree

import (
	"fmt"
	"log"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

//ImpurityMetric selects the impurity function of a classification tree.
type ImpurityMetric int

const (
	NoImpurity ImpurityMetric = iota
	Gini
	Entropy
	Misclassification
)

//RegressionStats is the length of a regression statistics vector:
//weight, weighted sum, weighted sum of squares, row count.
const RegressionStats = 4

const pureEpsilon = 1e-5

func (m ImpurityMetric) String() string {
	switch m {
	case Gini:
		return "gini"
	case Entropy:
		return "entropy"
	case Misclassification:
		return "misclassification"
	}
	return "none"
}

//ParseImpurity converts a configuration string into an ImpurityMetric.
func ParseImpurity(name string) (ImpurityMetric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return NoImpurity, nil
	case "gini":
		return Gini, nil
	case "entropy", "cross-entropy", "cross_entropy":
		return Entropy, nil
	case "misclassification", "misclass":
		return Misclassification, nil
	}
	return NoImpurity, fmt.Errorf("unknown impurity metric %q", name)
}

//StatsLayout describes the sufficient statistics vector shared by the tree, the accumulators
//and the expansion engine.
//For regression the vector is (weight, weight*y, weight*y*y, rows).
//For classification it holds one weighted count per label followed by the row count.
type StatsLayout struct {
	IsRegression bool           `json:"is_regression"`
	NLabels      int            `json:"n_labels"`
	Metric       ImpurityMetric `json:"impurity"`
}

//PerSplit returns the length of one statistics vector.
func (l StatsLayout) PerSplit() int {
	if l.IsRegression {
		return RegressionStats
	}
	return l.NLabels + 1
}

//RowStats fills dst with the statistics contributed by a single row.
func (l StatsLayout) RowStats(dst []float64, response, weight float64, weightsAsRows bool) {
	for ind := range dst {
		dst[ind] = 0
	}
	rows := 1.0
	if weightsAsRows {
		rows = math.Trunc(weight)
	}
	if l.IsRegression {
		wResponse := weight * response
		dst[0] = weight
		dst[1] = wResponse
		dst[2] = wResponse * response
		dst[3] = rows
		return
	}
	dst[int(response)] = weight
	dst[l.NLabels] = rows
}

//Count is the number of (unweighted) rows accounted in stats.
func (l StatsLayout) Count(stats []float64) float64 {
	return stats[len(stats)-1]
}

//WeightedCount is the sum of row weights accounted in stats.
func (l StatsLayout) WeightedCount(stats []float64) float64 {
	if l.IsRegression {
		return stats[0]
	}
	return floats.Sum(stats[:l.NLabels])
}

//Predict converts stats into the mean response (regression)
//or the label proportions (classification).
func (l StatsLayout) Predict(stats []float64) []float64 {
	if l.IsRegression {
		if stats[0] <= 0 {
			return []float64{0}
		}
		return []float64{stats[1] / stats[0]}
	}
	proportions := make([]float64, l.NLabels)
	copy(proportions, stats[:l.NLabels])
	total := floats.Sum(proportions)
	if total > 0 {
		floats.Scale(1/total, proportions)
	}
	return proportions
}

//Response is the scalar prediction: the mean response or the arg-max label.
func (l StatsLayout) Response(stats []float64) float64 {
	if l.IsRegression {
		return l.Predict(stats)[0]
	}
	return float64(floats.MaxIdx(stats[:l.NLabels]))
}

//Impurity computes the impurity of a statistics vector.
func (l StatsLayout) Impurity(stats []float64) float64 {
	if l.IsRegression {
		mean := stats[1] / stats[0]
		return stats[2]/stats[0] - mean*mean
	}
	proportions := l.Predict(stats)
	switch l.Metric {
	case Gini:
		return 1 - floats.Dot(proportions, proportions)
	case Entropy:
		entropy := 0.0
		for _, p := range proportions {
			entropy += entropyTerm(p)
		}
		return entropy
	case Misclassification:
		return 1 - floats.Max(proportions)
	}
	log.Panic(ErrNoImpurity)
	return 0
}

func entropyTerm(p float64) float64 {
	if p < 0 {
		log.Panicf("unexpected negative probability %g", p)
	}
	if p == 0 {
		return 0
	}
	return -p * math.Log2(p)
}

//ImpurityGain computes the impurity decrease of a candidate split.
//combined holds the true-branch stats followed by the false-branch stats.
//The gain is exactly zero when either branch is empty.
func (l StatsLayout) ImpurityGain(combined []float64) float64 {
	sps := l.PerSplit()
	trueStats, falseStats := combined[:sps], combined[sps:2*sps]
	trueCount := l.WeightedCount(trueStats)
	falseCount := l.WeightedCount(falseStats)
	if trueCount == 0 || falseCount == 0 {
		return 0
	}
	total := trueCount + falseCount
	sum := make([]float64, sps)
	floats.AddTo(sum, trueStats, falseStats)
	return l.Impurity(sum) -
		trueCount/total*l.Impurity(trueStats) -
		falseCount/total*l.Impurity(falseStats)
}

//IsPure reports whether the responses summarised by stats are too similar to split further.
func (l StatsLayout) IsPure(stats []float64) bool {
	if l.IsRegression {
		mean := stats[1] / stats[0]
		variance := stats[2]/stats[0] - mean*mean
		return variance < pureEpsilon*mean*mean
	}
	labels := stats[:l.NLabels]
	total := floats.Sum(labels)
	nonMax := total - floats.Max(labels)
	return nonMax/total < 100*pureEpsilon
}

//Risk is the weighted sum of squared deviations (regression)
//or the misclassified weight (classification).
func (l StatsLayout) Risk(stats []float64) float64 {
	if l.IsRegression {
		if stats[0] <= 0 {
			return 0
		}
		return stats[2] - stats[1]*stats[1]/stats[0]
	}
	return l.Misclassification(stats)
}

//Misclassification is the weight not belonging to the majority label; zero for regression.
func (l StatsLayout) Misclassification(stats []float64) float64 {
	if l.IsRegression {
		return 0
	}
	labels := stats[:l.NLabels]
	return floats.Sum(labels) - floats.Max(labels)
}
