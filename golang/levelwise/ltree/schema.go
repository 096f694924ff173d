package ltree

import (
	"context"
	"fmt"
	"math"
)

//MissingCategory marks a missing categorical value. Any negative value is treated as missing
//since ordinal levels are numbered from zero.
const MissingCategory = -1

//Row is one training or prediction record.
type Row struct {
	Cat      []int
	Con      []float64
	Response float64
	Weight   float64
}

//IsMissingCat reports whether a categorical value is missing.
func IsMissingCat(value int) bool {
	return value < 0
}

//IsMissingCon reports whether a continuous value is missing.
func IsMissingCon(value float64) bool {
	return math.IsNaN(value)
}

//RowSource is one independent pass over a partition of the data.
type RowSource interface {
	Scan(ctx context.Context, fn func(Row) error) error
}

//Schema is the feature layout fixed for a whole induction: the number of ordinal levels of
//every categorical feature and the pre-binned thresholds of every continuous feature.
type Schema struct {
	CatLevels []int       `json:"cat_levels" yaml:"cat_levels"`
	ConSplits [][]float64 `json:"con_splits" yaml:"con_splits"`
}

//NCat is the number of categorical features.
func (s Schema) NCat() int {
	return len(s.CatLevels)
}

//NCon is the number of continuous features.
func (s Schema) NCon() int {
	return len(s.ConSplits)
}

//NBins is the number of candidate thresholds per continuous feature.
func (s Schema) NBins() int {
	if len(s.ConSplits) == 0 {
		return 0
	}
	return len(s.ConSplits[0])
}

//Threshold returns the threshold of continuous feature f at bin b.
func (s Schema) Threshold(f, b int) float64 {
	return s.ConSplits[f][b]
}

//TotalCatLevels is the number of categorical candidate splits.
func (s Schema) TotalCatLevels() int {
	total := 0
	for _, levels := range s.CatLevels {
		total += levels
	}
	return total
}

//catOffsets returns the index of the first level of every categorical feature.
func (s Schema) catOffsets() []int {
	offsets := make([]int, len(s.CatLevels))
	cumsum := 0
	for ind, levels := range s.CatLevels {
		offsets[ind] = cumsum
		cumsum += levels
	}
	return offsets
}

//Check validates the schema.
func (s Schema) Check() error {
	for f, levels := range s.CatLevels {
		if levels < 0 {
			return fmt.Errorf("categorical feature %d has %d levels", f, levels)
		}
	}
	nBins := s.NBins()
	for f, splits := range s.ConSplits {
		if len(splits) != nBins {
			return fmt.Errorf("continuous feature %d has %d bins, expected %d: %w", f, len(splits), nBins, ErrShapeMismatch)
		}
	}
	return nil
}

//checkRow validates the shape and values of a row against the schema and layout.
func (s Schema) checkRow(row Row, layout StatsLayout) error {
	if math.IsNaN(row.Response) || math.IsInf(row.Response, 0) {
		return ErrNonFiniteResponse
	}
	if len(row.Cat) != s.NCat() {
		return fmt.Errorf("%w: %d categorical values, expected %d", ErrFeatureCount, len(row.Cat), s.NCat())
	}
	if len(row.Con) != s.NCon() {
		return fmt.Errorf("%w: %d continuous values, expected %d", ErrFeatureCount, len(row.Con), s.NCon())
	}
	if math.IsNaN(row.Weight) || math.IsInf(row.Weight, 0) || row.Weight < 0 {
		return fmt.Errorf("%w: %g", ErrBadWeight, row.Weight)
	}
	if !layout.IsRegression {
		if row.Response < 0 || row.Response >= float64(layout.NLabels) || row.Response != math.Trunc(row.Response) {
			return fmt.Errorf("%w: %g", ErrBadLabel, row.Response)
		}
	}
	return nil
}
