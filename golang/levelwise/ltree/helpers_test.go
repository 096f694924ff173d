package ltree

import (
	"context"
	"math"
)

//rowSlice is an in-memory RowSource.
type rowSlice []Row

func (rows rowSlice) Scan(ctx context.Context, fn func(Row) error) error {
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

//split divides the rows into n contiguous partitions.
func (rows rowSlice) split(n int) []RowSource {
	parts := make([]RowSource, n)
	for ind := range parts {
		parts[ind] = rows[ind*len(rows)/n : (ind+1)*len(rows)/n]
	}
	return parts
}

func conRow(response float64, con ...float64) Row {
	return Row{Con: con, Response: response, Weight: 1}
}

func catRow(response float64, cat ...int) Row {
	return Row{Cat: cat, Response: response, Weight: 1}
}

//pureLeftRows holds x = 0..9 with label 1 for x <= 5 and label 0 otherwise.
func pureLeftRows() rowSlice {
	rows := make(rowSlice, 0, 10)
	for x := 0; x < 10; x++ {
		label := 0.0
		if x <= 5 {
			label = 1
		}
		rows = append(rows, conRow(label, float64(x)))
	}
	return rows
}

func classificationOptions() *Options {
	opts := DefaultOptions()
	opts.MaxDepth = 5
	opts.MinSplit = 2
	opts.MinBucket = 1
	return opts
}

//accumulate builds an accumulator for tree over all rows.
func accumulate(tree *Tree, schema Schema, rows rowSlice) *Accumulator {
	acc := NewAccumulator(tree, schema, false)
	for _, row := range rows {
		if err := acc.Accumulate(row); err != nil {
			panic(err)
		}
	}
	return acc
}

var nan = math.NaN()
