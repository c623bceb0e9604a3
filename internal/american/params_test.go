package american

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

func TestParamsValidate(t *testing.T) {
	valid := Params{Spot: 100, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: 0.25, Maturity: 1}
	require.NoError(t, valid.Validate())

	zeroVol := valid
	zeroVol.Volatility = 0
	assert.NoError(t, zeroVol.Validate())

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero spot", func(p *Params) { p.Spot = 0 }},
		{"negative strike", func(p *Params) { p.Strike = -1 }},
		{"negative volatility", func(p *Params) { p.Volatility = -0.1 }},
		{"negative maturity", func(p *Params) { p.Maturity = -1 }},
		{"rate too large", func(p *Params) { p.Rate = 1.5 }},
		{"dividend too negative", func(p *Params) { p.Dividend = -2 }},
		{"nan spot", func(p *Params) { p.Spot = math.NaN() }},
		{"infinite maturity", func(p *Params) { p.Maturity = math.Inf(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
		})
	}
}

func TestParamsValidateReportsFirstNonFiniteField(t *testing.T) {
	p := Params{Spot: math.NaN(), Strike: 100, Rate: math.Inf(1), Dividend: 0, Volatility: math.NaN(), Maturity: math.Inf(-1)}
	for i := 0; i < 20; i++ {
		err := p.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "spot must be finite")
	}

	p.Spot = 100
	assert.Contains(t, p.Validate().Error(), "rate must be finite")
}

func TestXMax(t *testing.T) {
	const k = 100.0

	tests := []struct {
		r, q float64
		want float64
	}{
		{0.05, 0.02, 100},
		{0.02, 0.05, 40},
		{0.05, 0, 100},
		{0.05, -0.01, 100},
		{0, -0.01, 100},
		{0, 0, 0},
		{0, 0.02, 0},
		{-0.01, 0.02, 0},
		{-0.01, -0.02, 100},
		{-0.02, -0.01, 0},
		{-0.02, -0.02, 0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, XMax(k, tt.r, tt.q), 1e-12, "r=%g q=%g", tt.r, tt.q)
	}
}

func TestClassifyRegime(t *testing.T) {
	assert.Equal(t, RegimeSingleBoundary, ClassifyRegime(0.05, 0.02))
	assert.Equal(t, RegimeSingleBoundary, ClassifyRegime(0, -0.01))
	assert.Equal(t, RegimeEuropean, ClassifyRegime(0, 0.02))
	assert.Equal(t, RegimeEuropean, ClassifyRegime(-0.02, -0.01))
	assert.Equal(t, RegimeDoubleBoundary, ClassifyRegime(-0.01, -0.02))
	assert.Equal(t, "double_boundary", RegimeDoubleBoundary.String())
}

func TestMirror(t *testing.T) {
	p := Params{Spot: 90, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: 0.3, Maturity: 2}
	m := p.Mirror()

	assert.Equal(t, Params{Spot: 100, Strike: 90, Rate: 0.02, Dividend: 0.05, Volatility: 0.3, Maturity: 2}, m)
	assert.Equal(t, p, m.Mirror())
	assert.Equal(t, 10.0, p.Intrinsic())
	assert.Equal(t, 0.0, m.Intrinsic())
}

func TestEuropeanPut(t *testing.T) {
	p := Params{Spot: 100, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: 0.25, Maturity: 1}
	assert.InDelta(t, 8.226837, EuropeanPut(p), 1e-6)

	// Put-call parity
	call := EuropeanCall(p)
	parity := p.Spot*math.Exp(-p.Dividend) - p.Strike*math.Exp(-p.Rate)
	assert.InDelta(t, parity, call-EuropeanPut(p), 1e-10)

	p.Volatility = 0
	assert.InDelta(t, math.Max(100*math.Exp(-0.05)-100*math.Exp(-0.02), 0), EuropeanPut(p), 1e-12)
}

func TestFirstValid(t *testing.T) {
	calls := 0
	fail := func() (int, bool) { calls++; return 0, false }
	ok := func(v int) attempt[int] {
		return func() (int, bool) { calls++; return v, true }
	}

	v, i := firstValid[int](fail, ok(7), ok(9))
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, i)
	assert.Equal(t, 2, calls)

	v, i = firstValid[int](fail, fail)
	assert.Equal(t, 0, v)
	assert.Equal(t, -1, i)

	f, i := firstValid(finite(func() float64 { return math.NaN() }), finite(func() float64 { return 2 }))
	assert.Equal(t, 2.0, f)
	assert.Equal(t, 1, i)
}
