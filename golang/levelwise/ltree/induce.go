package ltree

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
)

//accumulateLevel runs one statistics pass per source concurrently and merges the partial
//accumulators in source order.
func accumulateLevel(ctx context.Context, tree *Tree, sources []RowSource, schema Schema, weightsAsRows bool) (*Accumulator, error) {
	accs := make([]*Accumulator, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for ind, src := range sources {
		ind, src := ind, src
		g.Go(func() error {
			acc := NewAccumulator(tree, schema, weightsAsRows)
			if err := acc.Consume(gctx, src); err != nil {
				return fmt.Errorf("partition %d: %w", ind, err)
			}
			accs[ind] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := accs[0]
	for _, acc := range accs[1:] {
		if err := merged.MergeFrom(acc); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

//accumulateSurrogates is accumulateLevel for the surrogate agreement statistics.
func accumulateSurrogates(ctx context.Context, tree *Tree, sources []RowSource, schema Schema, weightsAsRows bool) (*SurrogateAccumulator, error) {
	accs := make([]*SurrogateAccumulator, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for ind, src := range sources {
		ind, src := ind, src
		g.Go(func() error {
			sacc, err := NewSurrogateAccumulator(tree, schema)
			if err != nil {
				return err
			}
			if err := sacc.Consume(gctx, src, weightsAsRows); err != nil {
				return fmt.Errorf("partition %d: %w", ind, err)
			}
			accs[ind] = sacc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := accs[0]
	for _, sacc := range accs[1:] {
		if err := merged.MergeFrom(sacc); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

//Induce grows a tree level by level. Every level costs one pass over each source, plus one more
//when surrogates are requested; the sources are scanned concurrently.
func Induce(ctx context.Context, sources []RowSource, schema Schema, opts *Options) (*Tree, error) {
	if err := opts.Check(); err != nil {
		return nil, err
	}
	if err := schema.Check(); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, errors.New("no data partitions")
	}

	var rng *rand.Rand
	if opts.NRandomFeatures > 0 {
		rng = rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	}

	tree := NewTree(opts.Layout(), opts.MaxSurrogates)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Printf("tree level %d: %d frontier leaves", tree.Depth, tree.FrontierSize())
		acc, err := accumulateLevel(ctx, tree, sources, schema, opts.WeightsAsRows)
		if err != nil {
			return nil, err
		}

		var next *Tree
		var finished bool
		if rng != nil {
			next, finished, err = ExpandRandom(tree, acc, opts, rng)
		} else {
			next, finished, err = Expand(tree, acc, opts)
		}
		if err != nil {
			return nil, err
		}

		if opts.MaxSurrogates > 0 && next.Depth > tree.Depth {
			sacc, err := accumulateSurrogates(ctx, next, sources, schema, opts.WeightsAsRows)
			if err != nil {
				return nil, err
			}
			log.Printf("surrogates of level %d: %d rows", tree.Depth, sacc.NRows)
			if next, err = PickSurrogates(next, sacc); err != nil {
				return nil, err
			}
		}

		tree = next
		if finished {
			return tree, nil
		}
	}
}
