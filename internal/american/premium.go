package american

import (
	"math"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

// premiumIntegrand returns the early exercise premium density in z = √t,
//
//	2z (rK e^{-rt} Φ(-d₋) - qS e^{-qt} Φ(-d₊)),
//
// with d± taken against the boundary B(T - t)
func premiumIntegrand(p Params, boundary BoundaryFunc) numeric.Func {
	s, k, r, q, vol := p.Spot, p.Strike, p.Rate, p.Dividend, p.Volatility

	return func(z float64) float64 {
		t := z * z
		b := boundary(math.Max(0, p.Maturity-t))

		dr := math.Exp(-r * t)
		dq := math.Exp(-q * t)
		v := vol * math.Sqrt(t)

		if v >= numeric.Epsilon {
			if b <= numeric.Epsilon {
				return 0
			}
			dp := math.Log(s*dq/(b*dr))/v + 0.5*v
			return 2 * z * (r*k*dr*numeric.NormalCDF(-dp+v) - q*s*dq*numeric.NormalCDF(-dp))
		}

		// t → 0 or σ → 0: the normal terms become a step in S e^{-qt} - b e^{-rt}
		switch {
		case numeric.CloseEnough(s*dq, b*dr):
			return z * (r*k*dr - q*s*dq)
		case b*dr > s*dq:
			return 2 * z * (r*k*dr - q*s*dq)
		default:
			return 0
		}
	}
}

// earlyExercisePremium integrates the premium density over z ∈ [0, √T]
func earlyExercisePremium(p Params, boundary BoundaryFunc, integrator numeric.Integrator) (float64, error) {
	premium, err := integrator.Integrate(premiumIntegrand(p, boundary), 0, math.Sqrt(p.Maturity))
	if err != nil {
		return 0, errors.Wrap(err, "early exercise premium")
	}
	if !isFinite(premium) {
		return 0, errors.NumericalSingularity("early exercise premium is not finite")
	}
	return premium, nil
}
