package ltree

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//Dataset contains the feature matrices, the response and the optional row weights of a data set.
//Categorical values are raw codes stored as floats, NaN marks a missing value.
type Dataset struct {
	Categorical *mat.Dense
	Continuous  *mat.Dense
	Target      *mat.Dense
	Weights     *mat.Dense
	Description *string
}

//SetDescription sets a description for a Dataset object
func (ds *Dataset) SetDescription(description string) {
	ds.Description = &description
}

func (ds *Dataset) describe() string {
	if ds.Description == nil {
		return "dataset"
	}
	return *ds.Description
}

func height(m *mat.Dense) int {
	if m == nil {
		return 0
	}
	h, _ := m.Dims()
	return h
}

func width(m *mat.Dense) int {
	if m == nil {
		return 0
	}
	_, w := m.Dims()
	return w
}

//Len is the number of rows.
func (ds *Dataset) Len() int {
	return height(ds.Target)
}

//NCat is the number of categorical columns.
func (ds *Dataset) NCat() int {
	return width(ds.Categorical)
}

//NCon is the number of continuous columns.
func (ds *Dataset) NCon() int {
	return width(ds.Continuous)
}

//Validate checks the consistency of the matrix dimensions.
func (ds *Dataset) Validate() error {
	if ds.Target == nil {
		return fmt.Errorf("%w: dataset without a target", ErrShapeMismatch)
	}
	h := ds.Len()
	if width(ds.Target) != 1 {
		return fmt.Errorf("%w: the width of the target should be 1 not %d", ErrShapeMismatch, width(ds.Target))
	}
	for name, m := range map[string]*mat.Dense{"categorical": ds.Categorical, "continuous": ds.Continuous, "weights": ds.Weights} {
		if m != nil && height(m) != h {
			return fmt.Errorf("%w: the %s height %d is not equal to the target height %d", ErrShapeMismatch, name, height(m), h)
		}
	}
	if ds.Weights != nil && width(ds.Weights) != 1 {
		return fmt.Errorf("%w: the width of weights should be 1 not %d", ErrShapeMismatch, width(ds.Weights))
	}
	return nil
}

//Row converts row p into a Row. The raw categorical codes are truncated to integers.
func (ds *Dataset) Row(p int) Row {
	row := Row{
		Cat:      make([]int, ds.NCat()),
		Con:      make([]float64, ds.NCon()),
		Response: ds.Target.At(p, 0),
		Weight:   1,
	}
	for q := range row.Cat {
		value := ds.Categorical.At(p, q)
		if math.IsNaN(value) {
			row.Cat[q] = MissingCategory
		} else {
			row.Cat[q] = int(value)
		}
	}
	if ds.Continuous != nil {
		mat.Row(row.Con, p, ds.Continuous)
	}
	if ds.Weights != nil {
		row.Weight = ds.Weights.At(p, 0)
	}
	return row
}

//Scan visits every row of the dataset.
func (ds *Dataset) Scan(ctx context.Context, fn func(Row) error) error {
	return datasetRange{ds: ds, begin: 0, end: ds.Len()}.Scan(ctx, fn)
}

//datasetRange is a contiguous block of rows [begin, end) of a dataset.
type datasetRange struct {
	ds         *Dataset
	begin, end int
}

func (r datasetRange) Scan(ctx context.Context, fn func(Row) error) error {
	for p := r.begin; p < r.end; p++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r.ds.Row(p)); err != nil {
			return err
		}
	}
	return nil
}

//Partition splits the dataset into at most n contiguous row ranges of nearly equal sizes.
func (ds *Dataset) Partition(n int) []RowSource {
	h := ds.Len()
	if n < 1 {
		n = 1
	}
	if n > h && h > 0 {
		n = h
	}
	parts := make([]RowSource, 0, n)
	for ind := 0; ind < n; ind++ {
		parts = append(parts, datasetRange{ds: ds, begin: ind * h / n, end: (ind + 1) * h / n})
	}
	return parts
}

//ReadDataset reads the components of a data set from npy files. An empty file name means
//the component is absent; the target is mandatory.
func ReadDataset(fileNameCat, fileNameCon, fileNameTarget, fileNameWeights string) (*Dataset, error) {
	ds := &Dataset{}
	for _, component := range []struct {
		name     string
		fileName string
		dst      **mat.Dense
	}{
		{"categorical", fileNameCat, &ds.Categorical},
		{"continuous", fileNameCon, &ds.Continuous},
		{"target", fileNameTarget, &ds.Target},
		{"weights", fileNameWeights, &ds.Weights},
	} {
		if component.fileName == "" {
			continue
		}
		log.Print("\ttry to load ", component.name, " <", component.fileName, ">")
		m, err := ReadNpy(component.fileName)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", component.name, err)
		}
		*component.dst = m
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

//ReadNpy reads the content of npy file
func ReadNpy(fileName string) (*mat.Dense, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(f.Close()) }()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, err
	}

	denseMat := &mat.Dense{}
	if err := r.Read(denseMat); err != nil {
		return nil, err
	}
	return denseMat, nil
}

//WriteNpy stores a matrix into a npy file
func WriteNpy(fileName string, m *mat.Dense) error {
	dst, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err := npyio.Write(dst, m); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

//Collect reads every row of src into a Dataset with nCat categorical and nCon continuous
//columns. Missing categorical values become NaN.
func Collect(ctx context.Context, src RowSource, nCat, nCon int) (*Dataset, error) {
	var cat, con, target, weights []float64
	err := src.Scan(ctx, func(row Row) error {
		if len(row.Cat) != nCat || len(row.Con) != nCon {
			return fmt.Errorf("%w: %d categorical and %d continuous values", ErrFeatureCount, len(row.Cat), len(row.Con))
		}
		for _, value := range row.Cat {
			if IsMissingCat(value) {
				cat = append(cat, math.NaN())
			} else {
				cat = append(cat, float64(value))
			}
		}
		con = append(con, row.Con...)
		target = append(target, row.Response)
		weights = append(weights, row.Weight)
		return nil
	})
	if err != nil {
		return nil, err
	}
	h := len(target)
	if h == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShapeMismatch)
	}
	ds := &Dataset{
		Target:  mat.NewDense(h, 1, target),
		Weights: mat.NewDense(h, 1, weights),
	}
	if nCat > 0 {
		ds.Categorical = mat.NewDense(h, nCat, cat)
	}
	if nCon > 0 {
		ds.Continuous = mat.NewDense(h, nCon, con)
	}
	return ds, nil
}
