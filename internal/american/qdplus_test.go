package american

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

func TestQdPlusBoundary(t *testing.T) {
	qd := NewQdPlus(basePut(), DefaultQdPlusConfig())

	pt, err := qd.PutBoundary(1)
	require.NoError(t, err)
	assert.InDelta(t, 72.014837, pt.Value, 1e-5)
	assert.False(t, pt.UsedBrent)
	assert.LessOrEqual(t, pt.Evaluations, 11)

	short, err := qd.PutBoundary(0.01)
	require.NoError(t, err)
	assert.InDelta(t, 94.22275, short.Value, 1e-4)

	mid, err := qd.PutBoundary(0.5)
	require.NoError(t, err)
	assert.InDelta(t, 76.736447, mid.Value, 1e-5)

	// The put boundary falls as time to maturity grows
	assert.Greater(t, short.Value, mid.Value)
	assert.Greater(t, mid.Value, pt.Value)

	zero, err := qd.PutBoundary(0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, zero.Value)
}

func TestQdPlusSolversAgree(t *testing.T) {
	halley := NewQdPlus(basePut(), DefaultQdPlusConfig())

	cfg := DefaultQdPlusConfig()
	cfg.Solver = SolverSuperHalley
	superHalley := NewQdPlus(basePut(), cfg)

	for _, tau := range []float64{0.05, 0.25, 1} {
		a, err := halley.PutBoundary(tau)
		require.NoError(t, err)
		b, err := superHalley.PutBoundary(tau)
		require.NoError(t, err)
		assert.InDelta(t, a.Value, b.Value, 1e-6, "tau=%g", tau)
	}
}

func TestQdPlusBrentFallback(t *testing.T) {
	cfg := DefaultQdPlusConfig()
	cfg.MaxIterations = 1
	qd := NewQdPlus(basePut(), cfg)

	pt, err := qd.PutBoundary(1)
	require.NoError(t, err)
	assert.True(t, pt.UsedBrent)
	assert.InDelta(t, 72.014837, pt.Value, 1e-4)
}

func TestQdPlusBracketedSearch(t *testing.T) {
	cfg := DefaultQdPlusConfig()
	cfg.MaxIterations = 5
	qd := NewQdPlus(basePut(), cfg)

	for _, guess := range []float64{90, 1e9, math.NaN()} {
		eval := newQdPlusEvaluator(100, 100, 0.05, 0.02, 0.25, 1)
		root, err := qd.bracketed(eval, guess)
		require.NoError(t, err, "guess=%g", guess)
		assert.InDelta(t, 72.014837, root, 1e-6, "guess=%g", guess)
	}
}

func TestQdPlusEvaluatorDerivatives(t *testing.T) {
	e := newQdPlusEvaluator(100, 100, 0.05, 0.02, 0.25, 0.75)

	for _, s := range []float64{60, 75, 90} {
		h := 1e-4 * s
		up := newQdPlusEvaluator(100, 100, 0.05, 0.02, 0.25, 0.75)
		down := newQdPlusEvaluator(100, 100, 0.05, 0.02, 0.25, 0.75)

		fd := (up.value(s+h) - down.value(s-h)) / (2 * h)
		assert.InDelta(t, fd, e.derivative(s), 1e-5*math.Max(1, math.Abs(fd)), "s=%g", s)

		fd2 := (up.derivative(s+h) - down.derivative(s-h)) / (2 * h)
		assert.InDelta(t, fd2, e.secondDerivative(s), 1e-5*math.Max(1, math.Abs(fd2)), "s=%g", s)
	}
}

func TestQdPlusEvaluatorMemo(t *testing.T) {
	e := newQdPlusEvaluator(100, 100, 0.05, 0.02, 0.25, 1)

	v1 := e.value(80)
	dp := e.dp
	v2 := e.value(80)
	assert.Equal(t, v1, v2)
	assert.Equal(t, dp, e.dp)
	assert.Equal(t, 2, e.evaluations)

	e.value(85)
	assert.NotEqual(t, dp, e.dp)
	assert.Equal(t, 85.0, e.sc)
}

func TestQdPlusInterpolation(t *testing.T) {
	p := basePut()
	tr := NewTransform(p)

	for _, workers := range []int{1, 4} {
		interp, stats, err := NewQdPlus(p, DefaultQdPlusConfig()).Interpolation(context.Background(), tr, 8, workers)
		require.NoError(t, err)
		assert.Equal(t, 8, interp.Size())
		assert.Positive(t, stats.evaluations)

		y := interp.Values()
		assert.Equal(t, 0.0, y[0])
		for i := 1; i < len(y); i++ {
			assert.Greater(t, y[i], y[i-1])
		}
		assert.InDelta(t, 72.014837, tr.ToBoundary(y[len(y)-1]), 1e-5)
	}
}

func TestQdPlusConfigValidate(t *testing.T) {
	require.NoError(t, DefaultQdPlusConfig().Validate())

	cfg := DefaultQdPlusConfig()
	cfg.Tolerance = 0
	assert.True(t, errors.IsType(cfg.Validate(), errors.ErrorTypeInvalidInput))

	cfg = DefaultQdPlusConfig()
	cfg.Nodes = 1
	assert.Error(t, cfg.Validate())

	s, err := ParseSolver("Super_Halley")
	require.NoError(t, err)
	assert.Equal(t, SolverSuperHalley, s)
	assert.Equal(t, "super_halley", s.String())

	_, err = ParseSolver("newton")
	assert.Error(t, err)
}
