package spectral

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

func TestChebyshevNodes(t *testing.T) {
	x, err := ChebyshevNodes(5)
	require.NoError(t, err)

	want := []float64{-1, -math.Sqrt2 / 2, 0, math.Sqrt2 / 2, 1}
	assert.InDeltaSlice(t, want, x, 1e-15)

	for i := 1; i < len(x); i++ {
		assert.Less(t, x[i-1], x[i])
	}

	_, err = ChebyshevNodes(1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestInterpolationReproducesPolynomials(t *testing.T) {
	poly := func(x float64) float64 { return 3*x*x*x - x*x + 0.5*x - 2 }

	p, err := New(4, poly)
	require.NoError(t, err)

	for _, x := range []float64{-0.93, -0.4, 0.11, 0.5, 0.999} {
		assert.InDelta(t, poly(x), p.Value(x), 1e-13, "x=%g", x)
	}
}

func TestInterpolationConvergesForSmoothFunctions(t *testing.T) {
	f := func(x float64) float64 { return math.Exp(x) * math.Cos(2*x) }

	coarse, err := New(6, f)
	require.NoError(t, err)
	fine, err := New(20, f)
	require.NoError(t, err)

	maxCoarse, maxFine := 0.0, 0.0
	for x := -1.0; x <= 1.0; x += 0.01 {
		maxCoarse = math.Max(maxCoarse, math.Abs(coarse.Value(x)-f(x)))
		maxFine = math.Max(maxFine, math.Abs(fine.Value(x)-f(x)))
	}

	assert.Less(t, maxFine, 1e-12)
	assert.Less(t, maxFine, maxCoarse)
}

func TestValueAtNodesIsExact(t *testing.T) {
	p, err := New(7, math.Sin)
	require.NoError(t, err)

	for i, x := range p.Nodes() {
		assert.Equal(t, p.Values()[i], p.Value(x))
	}
}

func TestUpdateYKeepsNodes(t *testing.T) {
	p, err := New(5, func(x float64) float64 { return x })
	require.NoError(t, err)
	nodes := p.Nodes()

	y := make([]float64, len(nodes))
	for i, x := range nodes {
		y[i] = x * x
	}
	require.NoError(t, p.UpdateY(y))

	assert.Equal(t, nodes, p.Nodes())
	assert.InDelta(t, 0.09, p.Value(0.3), 1e-14)
	assert.Equal(t, 5, p.Size())

	// The interpolant holds its own copy
	y[2] = 100
	assert.InDelta(t, 0, p.Value(0), 1e-15)

	assert.Error(t, p.UpdateY([]float64{1, 2}))
}

func TestNewWithNodesValidation(t *testing.T) {
	_, err := NewWithNodes([]float64{0}, []float64{1})
	assert.Error(t, err)

	_, err = NewWithNodes([]float64{0, 0.5, 0.5}, []float64{1, 2, 3})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))

	_, err = NewWithNodes([]float64{0, 1}, []float64{1})
	assert.Error(t, err)

	p, err := NewWithNodes([]float64{1, -1, 0}, []float64{1, 1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, p.Value(0.5), 1e-14)
}
