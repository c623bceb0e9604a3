// Package spectral holds barycentric polynomial interpolation on
// Chebyshev nodes, used to represent the exercise boundary.
package spectral

import (
	"math"
	"sort"

	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

// nodeTolerance is the distance at which Value returns a stored sample directly
const nodeTolerance = 1e-14

// Interpolation is a barycentric interpolant through fixed nodes. The nodes and
// weights never change after construction; the sample values are replaced in
// place by UpdateY. An Interpolation is not safe for concurrent mutation, but
// concurrent Value calls are fine while no UpdateY is in progress.
type Interpolation struct {
	x []float64
	y []float64
	w []float64
}

// ChebyshevNodes returns the n Chebyshev points of the second kind on [-1, 1],
// t_i = -cos(iπ/(n-1)), in increasing order
func ChebyshevNodes(n int) ([]float64, error) {
	if n < 2 {
		return nil, errors.InvalidInputf("chebyshev interpolation needs at least 2 nodes, got %d", n)
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = -math.Cos(float64(i) * math.Pi / float64(n-1))
	}
	return x, nil
}

// New samples f at n Chebyshev nodes of the second kind
func New(n int, f func(float64) float64) (*Interpolation, error) {
	x, err := ChebyshevNodes(n)
	if err != nil {
		return nil, err
	}

	y := make([]float64, n)
	for i, xi := range x {
		y[i] = f(xi)
	}

	return NewWithNodes(x, y)
}

// NewWithNodes builds an interpolant through (x_i, y_i). The nodes must be
// distinct; they are copied, as are the values.
func NewWithNodes(x, y []float64) (*Interpolation, error) {
	if len(x) < 2 {
		return nil, errors.InvalidInputf("interpolation needs at least 2 nodes, got %d", len(x))
	}
	if len(x) != len(y) {
		return nil, errors.InvalidInputf("got %d nodes but %d values", len(x), len(y))
	}

	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] <= nodeTolerance {
			return nil, errors.InvalidInputf("interpolation nodes are not distinct near %g", sorted[i])
		}
	}

	p := &Interpolation{
		x: append([]float64(nil), x...),
		y: append([]float64(nil), y...),
		w: barycentricWeights(x),
	}
	return p, nil
}

// barycentricWeights computes λ_i = 1/Π_{j≠i}(x_i - x_j), scaled so max|λ| = 1
func barycentricWeights(x []float64) []float64 {
	w := make([]float64, len(x))
	maxAbs := 0.0

	for i := range x {
		prod := 1.0
		for j := range x {
			if j != i {
				prod *= x[i] - x[j]
			}
		}
		w[i] = 1 / prod
		maxAbs = math.Max(maxAbs, math.Abs(w[i]))
	}

	for i := range w {
		w[i] /= maxAbs
	}
	return w
}

// Value evaluates the interpolant at x
func (p *Interpolation) Value(x float64) float64 {
	if len(p.x) == 1 {
		return p.y[0]
	}

	num, den := 0.0, 0.0
	for i, xi := range p.x {
		d := x - xi
		if math.Abs(d) < nodeTolerance {
			return p.y[i]
		}
		t := p.w[i] / d
		num += t * p.y[i]
		den += t
	}

	return num / den
}

// Size returns the number of nodes
func (p *Interpolation) Size() int {
	return len(p.x)
}

// Nodes returns a copy of the nodes
func (p *Interpolation) Nodes() []float64 {
	return append([]float64(nil), p.x...)
}

// Values returns a copy of the current sample values
func (p *Interpolation) Values() []float64 {
	return append([]float64(nil), p.y...)
}

// UpdateY replaces the sample values in place. The weights are reused.
func (p *Interpolation) UpdateY(y []float64) error {
	if len(y) != len(p.y) {
		return errors.InvalidInputf("expected %d values, got %d", len(p.y), len(y))
	}
	copy(p.y, y)
	return nil
}
