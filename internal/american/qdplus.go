package american

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/internal/spectral"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// Solver selects the iteration used to find the QD+ boundary
type Solver int

const (
	// SolverHalley uses Halley's method
	SolverHalley Solver = iota
	// SolverSuperHalley uses the super-Halley (Chebyshev-Halley) variant
	SolverSuperHalley
)

// String returns the solver name
func (s Solver) String() string {
	switch s {
	case SolverHalley:
		return "halley"
	case SolverSuperHalley:
		return "super_halley"
	default:
		return fmt.Sprintf("solver(%d)", int(s))
	}
}

// ParseSolver parses a solver name
func ParseSolver(name string) (Solver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "halley":
		return SolverHalley, nil
	case "super_halley", "superhalley", "super-halley":
		return SolverSuperHalley, nil
	default:
		return 0, errors.InvalidInputf("unknown qd+ solver %q", name)
	}
}

// QdPlusConfig controls the QD+ boundary approximation
type QdPlusConfig struct {
	Solver        Solver
	Tolerance     float64
	MaxIterations int
	// Nodes is the number of Chebyshev nodes used when QD+ prices on its own
	Nodes int
}

// DefaultQdPlusConfig returns Halley iteration to 1e-8 with at most 10 steps
func DefaultQdPlusConfig() QdPlusConfig {
	return QdPlusConfig{
		Solver:        SolverHalley,
		Tolerance:     1e-8,
		MaxIterations: 10,
		Nodes:         8,
	}
}

// Validate checks the configuration
func (c QdPlusConfig) Validate() error {
	if c.Solver != SolverHalley && c.Solver != SolverSuperHalley {
		return errors.InvalidInputf("unknown qd+ solver %d", int(c.Solver))
	}
	if !(c.Tolerance > 0) {
		return errors.InvalidInputf("qd+ tolerance must be positive, got %g", c.Tolerance)
	}
	if c.MaxIterations < 1 {
		return errors.InvalidInputf("qd+ needs at least one iteration, got %d", c.MaxIterations)
	}
	if c.Nodes < 2 {
		return errors.InvalidInputf("qd+ needs at least 2 nodes, got %d", c.Nodes)
	}
	return nil
}

// qdPlusEvaluator evaluates g(S) = QD+(S) - S and its first two derivatives at
// a fixed time to maturity. The European terms of the last spot are memoized.
type qdPlusEvaluator struct {
	tau, strike, sigma, sigma2, v, r, q float64
	dr, dq, ddr                         float64
	omega, lambda, lambdaPrime          float64
	alpha, beta                         float64
	xmax, xmin                          float64

	evaluations int

	cached              bool
	sc                  float64
	dp, dm              float64
	phiDp, phiDm, pdfDp float64
	npv, theta, charm   float64
}

func newQdPlusEvaluator(spot, strike, r, q, vol, tau float64) *qdPlusEvaluator {
	e := &qdPlusEvaluator{
		tau:    tau,
		strike: strike,
		sigma:  vol,
		sigma2: vol * vol,
		v:      vol * math.Sqrt(tau),
		r:      r,
		q:      q,
		dr:     math.Exp(-r * tau),
		dq:     math.Exp(-q * tau),
	}

	if math.Abs(r*tau) > 1e-5 {
		e.ddr = r / (1 - e.dr)
	} else {
		// series expansion of r/(1-e^{-rτ})
		e.ddr = 1 / (tau * (1 - 0.5*r*tau*(1-r*tau/3)))
	}

	e.omega = 2 * (r - q) / e.sigma2
	sq := math.Sqrt((e.omega-1)*(e.omega-1) + 8*e.ddr/e.sigma2)
	e.lambda = 0.5 * (-(e.omega - 1) - sq)
	e.lambdaPrime = 2 * e.ddr * e.ddr / (e.sigma2 * sq)
	e.alpha = 2 * e.dr / (e.sigma2 * (2*e.lambda + e.omega - 1))
	e.beta = e.alpha*(e.ddr+e.lambdaPrime/(2*e.lambda+e.omega-1)) - e.lambda

	e.xmax = XMax(strike, r, q)
	e.xmin = numeric.Epsilon * 1e4 * math.Min(0.5*(strike+spot), e.xmax)

	return e
}

func (e *qdPlusEvaluator) precalc(s float64) {
	e.cached = true
	e.sc = s
	s = math.Max(numeric.Epsilon, s)

	e.dp = math.Log(s*e.dq/(e.strike*e.dr))/e.v + 0.5*e.v
	e.dm = e.dp - e.v
	e.phiDp = numeric.NormalCDF(-e.dp)
	e.phiDm = numeric.NormalCDF(-e.dm)
	e.pdfDp = numeric.NormalPDF(e.dp)

	e.npv = e.dr*e.strike*e.phiDm - s*e.dq*e.phiDp
	e.theta = e.r*e.strike*e.dr*e.phiDm - e.q*s*e.dq*e.phiDp -
		e.sigma2*s/(2*e.v)*e.dq*e.pdfDp
	e.charm = -e.dq * (e.pdfDp*((e.r-e.q)/e.v-e.dm/(2*e.tau)) + e.q*e.phiDp)
}

func (e *qdPlusEvaluator) ensure(s float64) {
	if !e.cached || s != e.sc {
		e.precalc(s)
	}
}

// value returns g(S); the root of g is the QD+ boundary
func (e *qdPlusEvaluator) value(s float64) float64 {
	e.evaluations++
	e.ensure(s)

	if numeric.CloseEnough(e.strike-s, e.npv) {
		return (1-e.dq*e.phiDp)*s + e.alpha*e.theta/e.dr
	}

	c0 := -e.beta - e.lambda + e.alpha*e.theta/(e.dr*(e.strike-s-e.npv))
	return (1-e.dq*e.phiDp)*s + (e.lambda+c0)*(e.strike-s-e.npv)
}

func (e *qdPlusEvaluator) derivative(s float64) float64 {
	e.ensure(s)
	return 1 - e.dq*e.phiDp + e.dq/e.v*e.pdfDp +
		e.beta*(1-e.dq*e.phiDp) + e.alpha/e.dr*e.charm
}

func (e *qdPlusEvaluator) secondDerivative(s float64) float64 {
	e.ensure(s)
	gamma := e.pdfDp * e.dq / (e.v * s)
	colour := gamma * (e.q + (e.r-e.q)*e.dp/e.v + (1-e.dp*e.dm)/(2*e.tau))

	return e.dq*(e.pdfDp/(s*e.v)-e.pdfDp*e.dp/(s*e.v*e.v)) +
		e.beta*gamma + e.alpha/e.dr*colour
}

// BoundaryPoint is the QD+ boundary at one time to maturity
type BoundaryPoint struct {
	Value       float64
	Evaluations int
	UsedBrent   bool
}

// QdPlus approximates the put exercise boundary with the QD+ method of Li (2009)
type QdPlus struct {
	params Params
	config QdPlusConfig
	log    *logger.Logger
}

// NewQdPlus creates a QD+ boundary solver for p
func NewQdPlus(p Params, config QdPlusConfig) *QdPlus {
	return &QdPlus{
		params: p,
		config: config,
		log:    logger.GetLogger("american.qdplus"),
	}
}

// PutBoundary solves g(S) = 0 at time to maturity tau. Halley iteration starts
// at X; if it does not converge, or converges to a poor root, a bracketed Brent
// search takes over.
func (qd *QdPlus) PutBoundary(tau float64) (BoundaryPoint, error) {
	p := qd.params
	if tau < numeric.Epsilon {
		return BoundaryPoint{Value: XMax(p.Strike, p.Rate, p.Dividend)}, nil
	}

	eval := newQdPlusEvaluator(p.Spot, p.Strike, p.Rate, p.Dividend, p.Volatility, tau)
	eps := qd.config.Tolerance

	x := eval.xmax
	converged := false
	for !converged && eval.evaluations < qd.config.MaxIterations {
		xOld := x
		fx := eval.value(x)
		fPrime := eval.derivative(x)
		lf := fx * eval.secondDerivative(x) / (fPrime * fPrime)

		var step float64
		if qd.config.Solver == SolverSuperHalley {
			step = (1 + 0.5*lf/(1-lf)) * fx / fPrime
		} else {
			step = 1 / (1 - 0.5*lf) * fx / fPrime
		}

		x = math.Max(eval.xmin, x-step)
		converged = math.Abs(x-xOld) < 0.5*eps
	}

	if converged && math.Abs(eval.value(x)) < 10*eps*p.Strike {
		return BoundaryPoint{Value: x, Evaluations: eval.evaluations}, nil
	}

	root, err := qd.bracketed(eval, x)
	point := BoundaryPoint{Value: root, Evaluations: eval.evaluations, UsedBrent: true}
	if err != nil {
		return point, errors.Wrapf(err, "qd+ boundary at tau=%g", tau)
	}
	return point, nil
}

func (qd *QdPlus) bracketed(eval *qdPlusEvaluator, guess float64) (float64, error) {
	budget := 10 * qd.config.MaxIterations
	lo := eval.xmin
	hi := math.Max(0.5*(eval.xmax+qd.params.Spot), eval.xmax)

	fLo := eval.value(lo)
	for eval.value(hi)*fLo > 0 && eval.evaluations < budget {
		hi *= 2
	}

	switch {
	case !isFinite(guess):
		guess = 0.5 * (lo + hi)
	case guess >= hi:
		guess = hi - math.Max(numeric.Epsilon, math.Abs(hi)*numeric.Epsilon)
	case guess <= lo:
		guess = lo + math.Max(numeric.Epsilon, math.Abs(lo)*numeric.Epsilon)
	}

	return numeric.NewBrent(budget).Solve(eval.value, qd.config.Tolerance, guess, lo, hi)
}

// seedStats summarizes a QD+ seeding run
type seedStats struct {
	evaluations    int
	brentFallbacks int
}

// Interpolation samples H = ln(B/X)² of the QD+ boundary on n Chebyshev nodes.
// Nodes are solved concurrently with up to workers goroutines.
func (qd *QdPlus) Interpolation(ctx context.Context, transform *Transform, n, workers int) (*spectral.Interpolation, seedStats, error) {
	z, err := spectral.ChebyshevNodes(n)
	if err != nil {
		return nil, seedStats{}, err
	}

	points := make([]BoundaryPoint, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i := range z {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pt, err := qd.PutBoundary(transform.Tau(z[i]))
			if err != nil {
				return err
			}
			points[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, seedStats{}, err
	}

	var stats seedStats
	y := make([]float64, n)
	for i, pt := range points {
		y[i] = transform.FromBoundary(pt.Value)
		stats.evaluations += pt.Evaluations
		if pt.UsedBrent {
			stats.brentFallbacks++
		}
	}
	if stats.brentFallbacks > 0 {
		qd.log.Debugf("QD+ used Brent on %d of %d nodes", stats.brentFallbacks, n)
	}

	interp, err := spectral.NewWithNodes(z, y)
	if err != nil {
		return nil, seedStats{}, err
	}
	return interp, stats, nil
}
