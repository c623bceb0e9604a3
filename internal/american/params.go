// Package american prices American options on a dividend-paying asset with the
// Andersen-Lake-Offengenden spectral collocation method: a QD+ boundary guess is
// refined by fixed-point iteration on Chebyshev nodes and the early exercise
// premium is integrated against the refined boundary.
package american

import (
	"math"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

// MaxAbsRate bounds the accepted interest rate and dividend yield
const MaxAbsRate = 1.0

// Params are the inputs of a single pricing call
type Params struct {
	Spot       float64 `json:"spot"`
	Strike     float64 `json:"strike"`
	Rate       float64 `json:"rate"`
	Dividend   float64 `json:"dividend"`
	Volatility float64 `json:"volatility"`
	Maturity   float64 `json:"maturity"`
}

// Validate rejects parameters the pricer cannot handle
func (p Params) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"spot", p.Spot},
		{"strike", p.Strike},
		{"rate", p.Rate},
		{"dividend", p.Dividend},
		{"volatility", p.Volatility},
		{"maturity", p.Maturity},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return errors.InvalidInputf("%s must be finite, got %g", f.name, f.value)
		}
	}

	switch {
	case p.Spot <= 0:
		return errors.InvalidInputf("spot must be positive, got %g", p.Spot)
	case p.Strike <= 0:
		return errors.InvalidInputf("strike must be positive, got %g", p.Strike)
	case p.Volatility < 0:
		return errors.InvalidInputf("volatility must not be negative, got %g", p.Volatility)
	case p.Maturity < 0:
		return errors.InvalidInputf("maturity must not be negative, got %g", p.Maturity)
	case math.Abs(p.Rate) > MaxAbsRate:
		return errors.InvalidInputf("rate %g outside [-%g, %g]", p.Rate, MaxAbsRate, MaxAbsRate)
	case math.Abs(p.Dividend) > MaxAbsRate:
		return errors.InvalidInputf("dividend %g outside [-%g, %g]", p.Dividend, MaxAbsRate, MaxAbsRate)
	}

	return nil
}

// Mirror swaps spot with strike and rate with dividend. The American call price
// of p equals the American put price of p.Mirror().
func (p Params) Mirror() Params {
	return Params{
		Spot:       p.Strike,
		Strike:     p.Spot,
		Rate:       p.Dividend,
		Dividend:   p.Rate,
		Volatility: p.Volatility,
		Maturity:   p.Maturity,
	}
}

// Intrinsic returns the immediate put exercise value max(K-S, 0)
func (p Params) Intrinsic() float64 {
	return math.Max(p.Strike-p.Spot, 0)
}

// Regime classifies a put by the shape of its exercise region
type Regime int

const (
	// RegimeSingleBoundary has one exercise boundary below the strike
	RegimeSingleBoundary Regime = iota
	// RegimeEuropean never exercises early
	RegimeEuropean
	// RegimeDoubleBoundary has an exercise region bounded on both sides (q < r < 0)
	RegimeDoubleBoundary
)

// String returns the regime name
func (r Regime) String() string {
	switch r {
	case RegimeSingleBoundary:
		return "single_boundary"
	case RegimeEuropean:
		return "european"
	case RegimeDoubleBoundary:
		return "double_boundary"
	default:
		return "unknown"
	}
}

// ClassifyRegime returns the exercise regime of a put for the given rates
func ClassifyRegime(r, q float64) Regime {
	if r < 0 && q < r {
		return RegimeDoubleBoundary
	}
	if r <= 0 && r <= q {
		return RegimeEuropean
	}
	return RegimeSingleBoundary
}

// XMax returns the limit of the put exercise boundary as time to maturity goes
// to zero (Andersen and Lake 2021, table 2). Zero marks regimes without early
// exercise.
func XMax(strike, r, q float64) float64 {
	switch {
	case r > 0 && q > 0:
		return strike * math.Min(1, r/q)
	case r > 0 && q <= 0:
		return strike
	case r == 0 && q < 0:
		return strike
	case r == 0 && q >= 0:
		return 0
	case r < 0 && q >= 0:
		return 0
	case r < 0 && q < r:
		return strike
	default:
		// r < 0 && r <= q < 0
		return 0
	}
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func closeToZero(x float64) bool {
	return numeric.CloseEnough(x, 0)
}
