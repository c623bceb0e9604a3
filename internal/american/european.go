package american

import (
	"math"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
)

// EuropeanPut returns the Black-Scholes price of a European put
func EuropeanPut(p Params) float64 {
	df := math.Exp(-p.Rate * p.Maturity)
	forward := p.Spot * math.Exp((p.Rate-p.Dividend)*p.Maturity)
	stdDev := p.Volatility * math.Sqrt(p.Maturity)

	if stdDev < 1e-15 {
		return df * math.Max(p.Strike-forward, 0)
	}

	d1 := math.Log(forward/p.Strike)/stdDev + 0.5*stdDev
	d2 := d1 - stdDev

	return math.Max(df*(p.Strike*numeric.NormalCDF(-d2)-forward*numeric.NormalCDF(-d1)), 0)
}

// EuropeanCall returns the Black-Scholes price of a European call
func EuropeanCall(p Params) float64 {
	return EuropeanPut(p.Mirror())
}
