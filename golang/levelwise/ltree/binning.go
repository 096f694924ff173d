package ltree

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

//QuantileSplits computes nBins candidate thresholds of every continuous column of ds:
//the weighted empirical quantiles b/(nBins+1), b = 1..nBins, of its non-missing values.
//A column without any value gets zero thresholds.
func QuantileSplits(ds *Dataset, nBins int) [][]float64 {
	h := ds.Len()
	splits := make([][]float64, ds.NCon())
	for f := range splits {
		splits[f] = make([]float64, nBins)
		values := make([]float64, 0, h)
		weights := make([]float64, 0, h)
		for p := 0; p < h; p++ {
			value := ds.Continuous.At(p, f)
			if IsMissingCon(value) {
				continue
			}
			weight := 1.0
			if ds.Weights != nil {
				weight = ds.Weights.At(p, 0)
			}
			values = append(values, value)
			weights = append(weights, weight)
		}
		if len(values) == 0 {
			continue
		}
		stat.SortWeighted(values, weights)
		for b := range splits[f] {
			splits[f][b] = stat.Quantile(float64(b+1)/float64(nBins+1), stat.Empirical, values, weights)
		}
	}
	return splits
}

//LevelEncoding maps raw categorical codes to ordinal levels 0..L-1 per feature.
type LevelEncoding struct {
	Levels []map[int]int `json:"levels"`
}

//FitLevelEncoding orders the distinct raw values of every categorical column of ds by the weighted
//mean response (regression) or by the weighted proportion of label 0 (classification),
//ties broken by the raw value.
func FitLevelEncoding(ds *Dataset, isRegression bool) *LevelEncoding {
	type group struct {
		raw     int
		values  []float64
		weights []float64
		key     float64
	}
	h := ds.Len()
	enc := &LevelEncoding{Levels: make([]map[int]int, ds.NCat())}
	for f := range enc.Levels {
		groups := make(map[int]*group)
		for p := 0; p < h; p++ {
			value := ds.Categorical.At(p, f)
			if math.IsNaN(value) || value < 0 {
				continue
			}
			raw := int(value)
			g, ok := groups[raw]
			if !ok {
				g = &group{raw: raw}
				groups[raw] = g
			}
			response := ds.Target.At(p, 0)
			if !isRegression {
				response = 0
				if ds.Target.At(p, 0) == 0 {
					response = 1
				}
			}
			weight := 1.0
			if ds.Weights != nil {
				weight = ds.Weights.At(p, 0)
			}
			g.values = append(g.values, response)
			g.weights = append(g.weights, weight)
		}

		ordered := make([]*group, 0, len(groups))
		for _, g := range groups {
			g.key = stat.Mean(g.values, g.weights)
			if math.IsNaN(g.key) {
				g.key = 0
			}
			ordered = append(ordered, g)
		}
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].key != ordered[j].key {
				return ordered[i].key < ordered[j].key
			}
			return ordered[i].raw < ordered[j].raw
		})
		enc.Levels[f] = make(map[int]int, len(ordered))
		for level, g := range ordered {
			enc.Levels[f][g.raw] = level
		}
	}
	return enc
}

//CatLevels is the number of levels of every categorical feature.
func (enc *LevelEncoding) CatLevels() []int {
	levels := make([]int, len(enc.Levels))
	for f, m := range enc.Levels {
		levels[f] = len(m)
	}
	return levels
}

//Encode maps a raw code of feature f to its level. Missing and unseen codes are missing.
func (enc *LevelEncoding) Encode(f, raw int) int {
	if IsMissingCat(raw) {
		return MissingCategory
	}
	level, ok := enc.Levels[f][raw]
	if !ok {
		return MissingCategory
	}
	return level
}

//EncodeRow returns a copy of row with encoded categorical values.
func (enc *LevelEncoding) EncodeRow(row Row) Row {
	cat := make([]int, len(row.Cat))
	for f, raw := range row.Cat {
		if f < len(enc.Levels) {
			cat[f] = enc.Encode(f, raw)
		} else {
			cat[f] = raw
		}
	}
	row.Cat = cat
	return row
}

//Wrap returns a source yielding the rows of src with encoded categorical values.
func (enc *LevelEncoding) Wrap(src RowSource) RowSource {
	return encodedSource{src: src, enc: enc}
}

//WrapAll wraps every source of a partitioning.
func (enc *LevelEncoding) WrapAll(sources []RowSource) []RowSource {
	ret := make([]RowSource, len(sources))
	for ind, src := range sources {
		ret[ind] = enc.Wrap(src)
	}
	return ret
}

type encodedSource struct {
	src RowSource
	enc *LevelEncoding
}

func (s encodedSource) Scan(ctx context.Context, fn func(Row) error) error {
	return s.src.Scan(ctx, func(row Row) error {
		return fn(s.enc.EncodeRow(row))
	})
}
