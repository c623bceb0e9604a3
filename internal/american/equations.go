package american

import (
	"fmt"
	"math"
	"strings"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

// Equation selects the fixed-point system used to refine the boundary
type Equation int

const (
	// EquationAuto picks A or B from the parameters
	EquationAuto Equation = iota
	// EquationA is the smooth-pasting form, stable when |r-q| is small
	EquationA
	// EquationB is the value-matching form
	EquationB
)

// String returns the equation name
func (e Equation) String() string {
	switch e {
	case EquationAuto:
		return "auto"
	case EquationA:
		return "A"
	case EquationB:
		return "B"
	default:
		return fmt.Sprintf("equation(%d)", int(e))
	}
}

// ParseEquation parses "auto", "a" or "b"
func ParseEquation(name string) (Equation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return EquationAuto, nil
	case "a", "fp_a", "fp-a":
		return EquationA, nil
	case "b", "fp_b", "fp-b":
		return EquationB, nil
	default:
		return 0, errors.InvalidInputf("unknown fixed-point equation %q", name)
	}
}

// SelectEquation resolves EquationAuto: A when |r-q| < σ²/2 or when X/K is tiny,
// B otherwise
func SelectEquation(p Params, forced Equation) Equation {
	if forced == EquationA || forced == EquationB {
		return forced
	}

	xmax := XMax(p.Strike, p.Rate, p.Dividend)
	if math.Abs(p.Rate-p.Dividend) < 0.5*p.Volatility*p.Volatility || xmax/p.Strike < 1e-2 {
		return EquationA
	}
	return EquationB
}

// fixedPointEquation evaluates b = F(τ, b) for the boundary value b at τ against
// the current boundary iterate
type fixedPointEquation interface {
	// F returns the numerator, denominator and the clamped fixed-point value
	F(tau, b float64) (n, d, fv float64, err error)
	// NDd returns ∂N/∂b and ∂D/∂b
	NDd(tau, b float64) (nd, dd float64)
}

func newFixedPointEquation(kind Equation, p Params, boundary BoundaryFunc, integrator numeric.Integrator) fixedPointEquation {
	base := fixedPointBase{
		strike:     p.Strike,
		r:          p.Rate,
		q:          p.Dividend,
		vol:        p.Volatility,
		boundary:   boundary,
		integrator: integrator,
	}
	if kind == EquationA {
		return &equationA{base}
	}
	return &equationB{base}
}

type fixedPointBase struct {
	strike, r, q, vol float64
	boundary          BoundaryFunc
	integrator        numeric.Integrator
}

// d returns d₊ and d₋ for time t and moneyness z
func (e *fixedPointBase) d(t, z float64) (float64, float64) {
	v := e.vol * math.Sqrt(t)
	m := (math.Log(z)+(e.r-e.q)*t)/v + 0.5*v
	return m, m - v
}

// fixedPointValue returns K e^{-(r-q)τ} N/D clamped to [0, K]. At τ ≈ 0 the
// ratio is replaced by its limit, which depends on where b sits against K.
func (e *fixedPointBase) fixedPointValue(tau, b, n, d float64, aboveOrAtStrike bool) float64 {
	alpha := e.strike * math.Exp(-(e.r-e.q)*tau)

	var fv float64
	switch {
	case tau >= numeric.Epsilon*numeric.Epsilon:
		fv = alpha * n / d
	case aboveOrAtStrike:
		fv = alpha
	case b > e.strike:
		fv = 0
	case numeric.CloseEnough(e.q, 0):
		fv = e.strike
	default:
		fv = alpha * e.r / e.q
	}

	return numeric.Clamp(fv, 0, e.strike)
}

// equationA is the smooth-pasting fixed-point system. The convolution integrals
// are taken in y ∈ [-1, 1] with u = τ - τ(1+y)²/4, which removes the
// square-root singularity at u = τ.
type equationA struct {
	fixedPointBase
}

func (e *equationA) F(tau, b float64) (float64, float64, float64, error) {
	v := e.vol * math.Sqrt(tau)

	var n, d float64
	if tau < numeric.Epsilon*numeric.Epsilon {
		if numeric.CloseEnough(b, e.strike) {
			n = numeric.InvSqrt2Pi() / v
			d = n + 0.5
		} else if b > e.strike {
			n, d = 0, 1
		} else {
			n, d = 0, 0
		}
		fv := e.fixedPointValue(tau, b, n, d, numeric.CloseEnough(b, e.strike))
		return n, d, fv, nil
	}

	stv := math.Sqrt(tau) / e.vol
	endpoint := 5*numeric.Epsilon - 1

	// the y → -1 limit of both integrands
	limit := func(df, m float64) float64 {
		if numeric.CloseEnough(b, e.boundary(tau-m)) {
			return df * stv * numeric.InvSqrt2Pi()
		}
		return 0
	}

	k12, err := e.integrator.Integrate(func(y float64) float64 {
		m := 0.25 * tau * (1 + y) * (1 + y)
		df := math.Exp(e.q*tau - e.q*m)
		if y <= endpoint {
			return limit(df, m)
		}
		dp, _ := e.d(m, b/e.boundary(tau-m))
		return df * (0.5*tau*(y+1)*numeric.NormalCDF(dp) + stv*numeric.NormalPDF(dp))
	}, -1, 1)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "equation A: K12 integral")
	}

	k3, err := e.integrator.Integrate(func(y float64) float64 {
		m := 0.25 * tau * (1 + y) * (1 + y)
		df := math.Exp(e.r*tau - e.r*m)
		if y <= endpoint {
			return limit(df, m)
		}
		_, dm := e.d(m, b/e.boundary(tau-m))
		return df * stv * numeric.NormalPDF(dm)
	}, -1, 1)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "equation A: K3 integral")
	}

	dp, dm := e.d(tau, b/e.strike)
	n = numeric.NormalPDF(dm)/v + e.r*k3
	d = numeric.NormalPDF(dp)/v + numeric.NormalCDF(dp) + e.q*k12

	return n, d, e.fixedPointValue(tau, b, n, d, false), nil
}

func (e *equationA) NDd(tau, b float64) (float64, float64) {
	dp, dm := e.d(tau, b/e.strike)
	sigma2 := e.vol * e.vol

	dd := -numeric.NormalPDF(dp)*dp/(b*sigma2*tau) + numeric.NormalPDF(dp)/(b*e.vol*math.Sqrt(tau))
	nd := -numeric.NormalPDF(dm) * dm / (b * sigma2 * tau)
	return nd, dd
}

// equationB is the value-matching fixed-point system. The integrands tend to a
// step in b - B(u) as u → τ; the limit is taken explicitly there.
type equationB struct {
	fixedPointBase
}

func (e *equationB) F(tau, b float64) (float64, float64, float64, error) {
	if tau < numeric.Epsilon*numeric.Epsilon {
		var n float64
		switch {
		case numeric.CloseEnough(b, e.strike):
			n = 0.5
		case b < e.strike:
			n = 0
		default:
			n = 1
		}
		atOrAbove := numeric.CloseEnough(b, e.strike) || b > e.strike
		return n, n, e.fixedPointValue(tau, b, n, n, atOrAbove), nil
	}

	upper := tau * (1 - 5*numeric.Epsilon)
	limit := func(u, df float64) float64 {
		bu := e.boundary(u)
		switch {
		case numeric.CloseEnough(b, bu):
			return 0.5 * df
		case b < bu:
			return 0
		default:
			return df
		}
	}

	ni, err := e.integrator.Integrate(func(u float64) float64 {
		df := math.Exp(e.r * u)
		if u >= upper {
			return limit(u, df)
		}
		_, dm := e.d(tau-u, b/e.boundary(u))
		return df * numeric.NormalCDF(dm)
	}, 0, tau)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "equation B: N integral")
	}

	di, err := e.integrator.Integrate(func(u float64) float64 {
		df := math.Exp(e.q * u)
		if u >= upper {
			return limit(u, df)
		}
		dp, _ := e.d(tau-u, b/e.boundary(u))
		return df * numeric.NormalCDF(dp)
	}, 0, tau)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "equation B: D integral")
	}

	dp, dm := e.d(tau, b/e.strike)
	n := numeric.NormalCDF(dm) + e.r*ni
	d := numeric.NormalCDF(dp) + e.q*di

	return n, d, e.fixedPointValue(tau, b, n, d, false), nil
}

func (e *equationB) NDd(tau, b float64) (float64, float64) {
	dp, dm := e.d(tau, b/e.strike)
	denom := b * e.vol * math.Sqrt(tau)
	return numeric.NormalPDF(dm) / denom, numeric.NormalPDF(dp) / denom
}

// MarshalText encodes the equation by name
func (e Equation) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes an equation name
func (e *Equation) UnmarshalText(text []byte) error {
	parsed, err := ParseEquation(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
