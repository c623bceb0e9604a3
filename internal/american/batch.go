package american

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchItem is one option of a batch
type BatchItem struct {
	Params Params
	Type   OptionType
}

// BatchResult is the outcome of one batch item. Err holds per-item failures.
type BatchResult struct {
	Index  int
	Result Result
	Err    error
}

// PriceBatch prices items with up to workers concurrent calls. Item failures are
// reported in the results; only context cancellation fails the whole batch.
func (e *Engine) PriceBatch(ctx context.Context, items []BatchItem, workers int) ([]BatchResult, error) {
	results := make([]BatchResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Price(gctx, item.Params, item.Type)
			results[i] = BatchResult{Index: i, Result: res, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
