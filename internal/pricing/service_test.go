package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/qdfp-pricer/internal/american"
	"github.com/rzzdr/qdfp-pricer/pkg/models"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

type errorCounts map[string]int

func (c errorCounts) RecordPricingError(t string) { c[t]++ }

func newTestService(t *testing.T) (*Service, errorCounts) {
	t.Helper()
	e, err := american.NewEngine(american.WithScheme(american.FastScheme()))
	require.NoError(t, err)
	counts := errorCounts{}
	return NewService(ServiceConfig{BatchWorkers: 2, MaxBatchSize: 5}, e, counts), counts
}

func atmPut() models.OptionContract {
	return models.OptionContract{
		Symbol: "XYZ", OptionType: models.OptionPut,
		Spot: 100, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: 0.25, Maturity: 1,
	}
}

func TestContractParams(t *testing.T) {
	c := atmPut()
	c.OptionType = ""
	p, typ, err := ContractParams(c)
	require.NoError(t, err)
	assert.Equal(t, american.Put, typ)
	assert.Equal(t, 0.25, p.Volatility)

	c.OptionType = "straddle"
	_, _, err = ContractParams(c)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))

	c = atmPut()
	c.Strike = -1
	_, _, err = ContractParams(c)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestPrice(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	res, err := s.Price(ctx, models.PricingRequest{ID: "r1", OptionContract: atmPut(), Greeks: true})
	require.NoError(t, err)

	want, err := s.Engine().CalculatePut(ctx, american.Params{Spot: 100, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: 0.25, Maturity: 1})
	require.NoError(t, err)

	assert.Equal(t, "r1", res.ID)
	assert.Equal(t, "XYZ", res.Symbol)
	assert.Equal(t, "put", res.OptionType)
	assert.Equal(t, want, res.Price)
	assert.Equal(t, "qdfp", res.Method)
	assert.Equal(t, "A", res.Equation)
	assert.InDelta(t, res.Price-res.European, res.Premium, 1e-12)
	require.NotNil(t, res.Greeks)
	assert.Less(t, res.Greeks.Delta, 0.0)
	require.NotNil(t, res.Diagnostics)
	assert.Equal(t, 8, res.Diagnostics.Nodes)
	assert.False(t, res.Timestamp.IsZero())
}

func TestPriceQdPlusMethod(t *testing.T) {
	s, _ := newTestService(t)

	res, err := s.Price(context.Background(), models.PricingRequest{OptionContract: atmPut(), Method: "qdplus"})
	require.NoError(t, err)
	assert.Equal(t, "qdplus", res.Method)
	assert.InDelta(t, 8.5731, res.Price, 1e-3)
	assert.Nil(t, res.Diagnostics)
}

func TestPriceRejectsUnknownMethod(t *testing.T) {
	s, counts := newTestService(t)

	_, err := s.Price(context.Background(), models.PricingRequest{OptionContract: atmPut(), Method: "monte-carlo"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
	assert.Equal(t, 1, counts["invalid_input"])
}

func TestResultReportsErrors(t *testing.T) {
	s, _ := newTestService(t)
	c := atmPut()
	c.Volatility = -0.1

	res := s.Result(context.Background(), models.PricingRequest{ID: "bad", OptionContract: c})
	assert.True(t, res.Failed())
	assert.Equal(t, "bad", res.ID)
	assert.Equal(t, "invalid_input", res.ErrorType)
	assert.Zero(t, res.Price)
}

func TestImpliedVolatility(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	priced, err := s.Price(ctx, models.PricingRequest{OptionContract: atmPut()})
	require.NoError(t, err)

	c := atmPut()
	c.Volatility = 0.9
	iv, err := s.ImpliedVolatility(ctx, models.ImpliedVolRequest{ID: "iv", OptionContract: c, TargetPrice: priced.Price})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, iv.ImpliedVolatility, 1e-5)
	assert.Equal(t, "iv", iv.ID)

	_, err = s.ImpliedVolatility(ctx, models.ImpliedVolRequest{OptionContract: c, TargetPrice: 0})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestBoundary(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	put, err := s.Boundary(ctx, models.BoundaryRequest{OptionContract: atmPut(), Points: 5})
	require.NoError(t, err)
	assert.Equal(t, "put", put.OptionType)
	require.Len(t, put.Nodes, 8)
	require.Len(t, put.Samples, 5)
	assert.Equal(t, 0.0, put.Samples[0].Tau)
	assert.Equal(t, 1.0, put.Samples[4].Tau)
	for _, pt := range put.Samples {
		assert.LessOrEqual(t, pt.Value, 100.0)
		assert.Greater(t, pt.Value, 0.0)
	}
	for i := 1; i < len(put.Samples); i++ {
		assert.LessOrEqual(t, put.Samples[i].Value, put.Samples[i-1].Value+1e-9)
	}

	c := atmPut()
	c.OptionType = models.OptionCall
	c.Rate, c.Dividend = 0.02, 0.05
	call, err := s.Boundary(ctx, models.BoundaryRequest{OptionContract: c, Points: 3})
	require.NoError(t, err)
	assert.Equal(t, "call", call.OptionType)
	for i, pt := range call.Samples {
		assert.GreaterOrEqual(t, pt.Value, 100.0-1e-9)
		// the call boundary mirrors the put boundary of the swapped rates
		assert.InDelta(t, 100*100/put.Samples[2*i].Value, pt.Value, 1e-6)
	}

	_, err = s.Boundary(ctx, models.BoundaryRequest{OptionContract: atmPut(), Points: -1})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))

	c = atmPut()
	c.Rate, c.Dividend = -0.01, 0.02
	_, err = s.Boundary(ctx, models.BoundaryRequest{OptionContract: c})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestBatch(t *testing.T) {
	s, _ := newTestService(t)
	bad := atmPut()
	bad.Maturity = -1

	call := atmPut()
	call.OptionType = models.OptionCall

	out, err := s.Batch(context.Background(), models.BatchRequest{Requests: []models.PricingRequest{
		{ID: "a", OptionContract: atmPut()},
		{ID: "b", OptionContract: bad},
		{ID: "c", OptionContract: call},
	}})
	require.NoError(t, err)
	require.Len(t, out.Results, 3)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, "b", out.Results[1].ID)
	assert.True(t, out.Results[1].Failed())
	assert.InDelta(t, out.Results[0].Price+out.Results[2].Price, out.TotalPrice, 1e-12)

	_, err = s.Batch(context.Background(), models.BatchRequest{Requests: make([]models.PricingRequest, 6)})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Batch(ctx, models.BatchRequest{Requests: []models.PricingRequest{{OptionContract: atmPut()}}})
	assert.ErrorIs(t, err, context.Canceled)
}
