package numeric

import (
	"math"

	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

// Brent is a bracketing root finder combining bisection, secant and inverse
// quadratic interpolation steps
type Brent struct {
	MaxEvaluations int

	evaluations int
}

// NewBrent creates a solver with the given evaluation budget
func NewBrent(maxEvaluations int) *Brent {
	if maxEvaluations < 3 {
		maxEvaluations = 3
	}
	return &Brent{MaxEvaluations: maxEvaluations}
}

// Evaluations returns the number of function evaluations used by the last Solve
func (b *Brent) Evaluations() int {
	return b.evaluations
}

// Solve finds x in [lo, hi] with f(x) = 0 to within accuracy, starting from guess.
// f(lo) and f(hi) must have opposite signs (or one must be zero).
func (b *Brent) Solve(f Func, accuracy, guess, lo, hi float64) (float64, error) {
	if !(lo < hi) {
		return 0, errors.InvalidInputf("invalid bracket [%g, %g]", lo, hi)
	}
	accuracy = math.Max(accuracy, Epsilon)

	xMin, xMax := lo, hi
	fxMin := f(xMin)
	if fxMin == 0 {
		b.evaluations = 1
		return xMin, nil
	}
	fxMax := f(xMax)
	if fxMax == 0 {
		b.evaluations = 2
		return xMax, nil
	}
	if fxMin*fxMax > 0 {
		b.evaluations = 2
		return 0, errors.SolverNonConvergence("root not bracketed")
	}

	guess = Clamp(guess, lo, hi)
	root := guess
	froot := f(root)
	b.evaluations = 3

	if froot == 0 {
		return root, nil
	}

	// Keep the endpoint that brackets the root together with the guess
	if froot*fxMin < 0 {
		xMax, fxMax = xMin, fxMin
	} else {
		xMin, fxMin = xMax, fxMax
	}

	d := root - xMax
	e := d

	for b.evaluations <= b.MaxEvaluations {
		if (froot > 0 && fxMax > 0) || (froot < 0 && fxMax < 0) {
			xMax, fxMax = xMin, fxMin
			d = root - xMin
			e = d
		}
		if math.Abs(fxMax) < math.Abs(froot) {
			xMin, root, xMax = root, xMax, root
			fxMin, froot, fxMax = froot, fxMax, froot
		}

		xAcc1 := 2*Epsilon*math.Abs(root) + 0.5*accuracy
		xMid := 0.5 * (xMax - root)

		if math.Abs(xMid) <= xAcc1 || froot == 0 {
			return root, nil
		}

		if math.Abs(e) >= xAcc1 && math.Abs(fxMin) > math.Abs(froot) {
			var p, q float64
			s := froot / fxMin
			if xMin == xMax {
				p = 2 * xMid * s
				q = 1 - s
			} else {
				q = fxMin / fxMax
				r := froot / fxMax
				p = s * (2*xMid*q*(q-r) - (root-xMin)*(r-1))
				q = (q - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			}
			p = math.Abs(p)

			min1 := 3*xMid*q - math.Abs(xAcc1*q)
			min2 := math.Abs(e * q)
			if 2*p < math.Min(min1, min2) {
				e = d
				d = p / q
			} else {
				d = xMid
				e = d
			}
		} else {
			d = xMid
			e = d
		}

		xMin, fxMin = root, froot
		if math.Abs(d) > xAcc1 {
			root += d
		} else {
			root += math.Copysign(xAcc1, xMid)
		}
		froot = f(root)
		b.evaluations++
	}

	return 0, errors.BudgetExceeded(ErrMaxEvaluations, "brent")
}
