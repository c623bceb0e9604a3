package american

import (
	"math"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
)

const (
	minLogBoundary = -20.0
	maxLogBoundary = 5.0
	maxH           = 225.0

	// boundaryFloor is the lowest boundary value as a fraction of the normalizer
	boundaryFloor = 1e-6

	// nearExpiry is the fraction of the maturity below which B(τ) = X
	nearExpiry = 1e-12
)

// Interpolant evaluates a function of the Chebyshev coordinate z ∈ [-1, 1]
type Interpolant interface {
	Value(z float64) float64
}

// BoundaryFunc maps time to maturity τ to the put exercise boundary B(τ)
type BoundaryFunc func(tau float64) float64

// Transform maps boundary prices to the variance-stabilized coordinate
// H = ln(B/X)² and back, and time to maturity to the Chebyshev coordinate
// z = 2√(τ/T) - 1. X is the short-maturity limit of the boundary, so
// ln(B/X) ≤ 0 and the sign is recovered as -√H.
type Transform struct {
	maturity  float64
	xmax      float64
	lo        float64
	perpetual float64
}

// NewTransform builds the transform for a single-boundary put
func NewTransform(p Params) *Transform {
	xmax := XMax(p.Strike, p.Rate, p.Dividend)
	t := &Transform{
		maturity: p.Maturity,
		xmax:     xmax,
		lo:       boundaryFloor * xmax,
	}
	t.perpetual = t.clamp(perpetualPutBoundary(p, xmax))
	return t
}

// XMax returns the boundary normalizer X
func (t *Transform) XMax() float64 {
	return t.xmax
}

// Perpetual returns the clamped perpetual put boundary
func (t *Transform) Perpetual() float64 {
	return t.perpetual
}

func (t *Transform) clamp(b float64) float64 {
	return numeric.Clamp(b, t.lo, t.xmax)
}

// FromBoundary returns H for the boundary price b. b is clamped into the
// economic band first; NaN maps to the near-expiry value H = 0.
func (t *Transform) FromBoundary(b float64) float64 {
	if math.IsNaN(b) {
		return 0
	}
	g := numeric.Clamp(math.Log(t.clamp(b)/t.xmax), minLogBoundary, maxLogBoundary)
	return numeric.Clamp(g*g, 0, maxH)
}

// ToBoundary inverts FromBoundary
func (t *Transform) ToBoundary(h float64) float64 {
	h = numeric.Clamp(h, 0, maxH)
	return t.clamp(t.xmax * math.Exp(-math.Sqrt(h)))
}

// Z returns the Chebyshev coordinate of τ, with τ clamped into [0, T]
func (t *Transform) Z(tau float64) float64 {
	tau = numeric.Clamp(tau, 0, t.maturity)
	return 2*math.Sqrt(tau/t.maturity) - 1
}

// Tau returns the time to maturity of the Chebyshev coordinate z
func (t *Transform) Tau(z float64) float64 {
	u := 0.5 * (z + 1)
	return t.maturity * u * u
}

// Boundary composes the transform with an interpolant of H. The result never
// fails: τ ≈ 0 gives X, τ > T gives the perpetual boundary and a non-finite
// reconstruction degrades to linear interpolation between the two.
func (t *Transform) Boundary(h Interpolant) BoundaryFunc {
	return func(tau float64) float64 {
		if tau <= nearExpiry*t.maturity {
			return t.xmax
		}
		if tau > t.maturity {
			return t.perpetual
		}

		b, _ := firstValid(
			finite(func() float64 { return t.ToBoundary(h.Value(t.Z(tau))) }),
			finite(func() float64 { return t.linear(tau) }),
			func() (float64, bool) { return t.xmax, true },
		)
		return b
	}
}

func (t *Transform) linear(tau float64) float64 {
	w := numeric.Clamp(tau/t.maturity, 0, 1)
	return (1-w)*t.xmax + w*t.perpetual
}

// perpetualPutBoundary returns Kλ₋/(λ₋-1), λ₋ the negative root of
// ½σ²λ² + (r-q-½σ²)λ - r = 0. Degenerate roots fall back to X/2.
func perpetualPutBoundary(p Params, xmax float64) float64 {
	sigma2 := p.Volatility * p.Volatility
	fallback := 0.5 * xmax

	if sigma2 < numeric.Epsilon {
		return fallback
	}

	mu := p.Rate - p.Dividend - 0.5*sigma2
	disc := mu*mu + 2*p.Rate*sigma2
	if disc < 0 {
		return fallback
	}

	lambda := (-mu - math.Sqrt(disc)) / sigma2
	if lambda >= 0 {
		return fallback
	}

	return p.Strike * lambda / (lambda - 1)
}
