package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// DefaultWorkers is the worker limit of RunPartitioned when none is given.
const DefaultWorkers = 4

type partition struct {
	key     string
	indexes []int
	rows    []evaluator.Row
}

// RunPartitioned groups rows by the value of the key column and runs each
// group through its own interpreter instance, at most workers at a time.
// Every emitted row carries the key column; rows are returned in the
// order of the inputs that produced them. The first failing partition
// cancels the others.
func RunPartitioned(ctx context.Context, prog *Program, rows []evaluator.Row, key string, workers int) ([]evaluator.Row, error) {
	if workers < 1 {
		workers = DefaultWorkers
	}

	var parts []*partition
	byKey := map[string]*partition{}
	for i, row := range rows {
		kv := keyValue(row, key)
		k := partitionKey(kv)
		p, ok := byKey[k]
		if !ok {
			p = &partition{key: evaluator.FormatValue(kv)}
			byKey[k] = p
			parts = append(parts, p)
		}
		p.indexes = append(p.indexes, i)
		p.rows = append(p.rows, row)
	}

	type emitted struct {
		index int
		row   evaluator.Row
	}
	results := make([][]emitted, len(parts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for pi, p := range parts {
		g.Go(func() error {
			in := prog.NewInstance()
			for i, row := range p.rows {
				if err := ctx.Err(); err != nil {
					return err
				}
				out, err := in.ExecuteOne(row)
				if errors.Is(err, ErrHalted) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("partition %s=%s: %w", key, p.key, err)
				}
				if out == nil {
					continue
				}
				if _, ok := out[key]; !ok {
					out[key] = keyValue(row, key)
				}
				results[pi] = append(results[pi], emitted{index: p.indexes[i], row: out})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []emitted
	for _, r := range results {
		merged = append(merged, r...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].index < merged[j].index })
	out := make([]evaluator.Row, len(merged))
	for i, e := range merged {
		out[i] = e.row
	}
	return out, nil
}

// partitionKey distinguishes key values by type as well as text, so the
// number 1 and the string "1" are separate partitions.
func partitionKey(v evaluator.Value) string {
	return evaluator.TypeName(v) + ":" + evaluator.FormatValue(v)
}

func keyValue(row evaluator.Row, key string) evaluator.Value {
	if v, ok := row[key]; ok && v != nil {
		return v
	}
	return evaluator.Null{}
}
