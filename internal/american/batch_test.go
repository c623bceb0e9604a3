package american

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

func TestPriceBatch(t *testing.T) {
	e := newTestEngine(t, WithScheme(FastScheme()))
	ctx := context.Background()

	items := []BatchItem{
		{Params: basePut(), Type: Put},
		{Params: Params{Spot: 100, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: -1, Maturity: 1}, Type: Put},
		{Params: Params{Spot: 110, Strike: 100, Rate: 0.03, Dividend: 0.06, Volatility: 0.3, Maturity: 1.5}, Type: Call},
	}

	results, err := e.PriceBatch(ctx, items, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, i, res.Index)
	}

	require.NoError(t, results[0].Err)
	single, err := e.CalculatePut(ctx, basePut())
	require.NoError(t, err)
	assert.Equal(t, single, results[0].Result.Price)

	assert.True(t, errors.IsType(results[1].Err, errors.ErrorTypeInvalidInput))

	require.NoError(t, results[2].Err)
	call, err := e.CalculateCall(ctx, items[2].Params)
	require.NoError(t, err)
	assert.Equal(t, call, results[2].Result.Price)
}

func TestPriceBatchCancelled(t *testing.T) {
	e := newTestEngine(t, WithScheme(FastScheme()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.PriceBatch(ctx, []BatchItem{{Params: basePut()}}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPriceBatchEmpty(t *testing.T) {
	results, err := newTestEngine(t).PriceBatch(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}
