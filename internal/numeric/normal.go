package numeric

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Epsilon is the machine epsilon for float64
const Epsilon = 2.220446049250313e-16

// invSqrt2Pi is 1/sqrt(2π)
const invSqrt2Pi = 0.3989422804014327

// NormalCDF returns the standard normal cumulative distribution function
func NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// NormalPDF returns the standard normal probability density function
func NormalPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// InvSqrt2Pi returns 1/sqrt(2π), the normal density at zero
func InvSqrt2Pi() float64 {
	return invSqrt2Pi
}

// CloseEnough reports whether x and y agree to within 42 ulps relative,
// or to within (42ε)² absolutely when either is zero
func CloseEnough(x, y float64) bool {
	return CloseEnoughN(x, y, 42)
}

// CloseEnoughN is CloseEnough with an explicit multiple of ε
func CloseEnoughN(x, y float64, n int) bool {
	if x == y {
		return true
	}

	diff := math.Abs(x - y)
	tolerance := float64(n) * Epsilon

	if x*y == 0 {
		return diff < tolerance*tolerance
	}

	return diff <= tolerance*math.Abs(x) || diff <= tolerance*math.Abs(y)
}

// Clamp restricts x to [lo, hi]
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
