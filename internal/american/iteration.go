package american

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/internal/spectral"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

const (
	// divergenceRatio and divergenceFloor define a diverging pass: its change
	// exceeds both the floor and divergenceRatio times the previous change
	divergenceRatio = 10.0
	divergenceFloor = 1e-6

	// singularDenominator marks D as numerically zero
	singularDenominator = 1e-300
	// flatDerivative marks f_d - 1 as numerically zero
	flatDerivative = 1e-12
)

// Diagnostics describe how a boundary was refined
type Diagnostics struct {
	Equation Equation `json:"equation"`
	Nodes    int      `json:"nodes"`
	// PassChanges is the max-norm change of H per applied pass
	PassChanges []float64 `json:"pass_changes"`
	// RecoveredNodes counts node updates that failed and kept the previous value
	RecoveredNodes int `json:"recovered_nodes"`
	// Diverged is set when a pass was rolled back and iteration stopped early
	Diverged          bool `json:"diverged"`
	QdPlusEvaluations int  `json:"qdplus_evaluations"`
	BrentFallbacks    int  `json:"brent_fallbacks"`
}

// iteration refines the boundary interpolant in place
type iteration struct {
	params    Params
	transform *Transform
	interp    *spectral.Interpolation
	boundary  BoundaryFunc
	equation  fixedPointEquation
	taus      []float64
	workers   int
	log       *logger.Logger
}

func newIteration(p Params, transform *Transform, interp *spectral.Interpolation, boundary BoundaryFunc, eq fixedPointEquation, workers int, log *logger.Logger) *iteration {
	nodes := interp.Nodes()
	taus := make([]float64, len(nodes))
	for i, z := range nodes {
		taus[i] = transform.Tau(z)
	}

	return &iteration{
		params:    p,
		transform: transform,
		interp:    interp,
		boundary:  boundary,
		equation:  eq,
		taus:      taus,
		workers:   max(workers, 1),
		log:       log,
	}
}

// run applies jacobiNewton Newton-corrected passes and then richardson plain
// passes. Each pass reads only the previous iterate; the interpolant is updated
// once the whole pass is done.
func (it *iteration) run(ctx context.Context, jacobiNewton, richardson int, diag *Diagnostics) error {
	prev := math.Inf(1)

	for k := 0; k < jacobiNewton+richardson; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		current := it.interp.Values()
		next, recovered, err := it.pass(ctx, current, k < jacobiNewton)
		if err != nil {
			return err
		}
		diag.RecoveredNodes += recovered

		change := floats.Distance(next, current, math.Inf(1))
		if !math.IsInf(prev, 1) && change > divergenceRatio*prev && change > divergenceFloor {
			it.log.Warnf("Fixed-point pass %d diverged (change %.3g after %.3g), keeping previous iterate", k, change, prev)
			diag.Diverged = true
			return nil
		}

		if err := it.interp.UpdateY(next); err != nil {
			return err
		}
		diag.PassChanges = append(diag.PassChanges, change)
		it.log.Debugf("Fixed-point pass %d: change %.3g", k, change)
		prev = change
	}

	return nil
}

// pass computes the next H values. Node 0 sits at τ = 0 and stays at H = 0.
func (it *iteration) pass(ctx context.Context, current []float64, newton bool) ([]float64, int, error) {
	next := make([]float64, len(current))
	failed := make([]bool, len(current))

	update := func(i int) {
		h, ok := it.node(it.taus[i], newton)
		if !ok {
			h = current[i]
			failed[i] = true
		}
		next[i] = h
	}

	if it.workers == 1 {
		for i := 1; i < len(next); i++ {
			update(i)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(it.workers)
		for i := 1; i < len(next); i++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				update(i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}
	}

	recovered := 0
	for _, f := range failed {
		if f {
			recovered++
		}
	}
	return next, recovered, nil
}

// node returns the updated H at τ, or false if the equation could not be evaluated
func (it *iteration) node(tau float64, newton bool) (float64, bool) {
	b := it.boundary(tau)

	n, d, fv, err := it.equation.F(tau, b)
	if err != nil || !isFinite(fv) {
		return 0, false
	}

	if !newton || tau < numeric.Epsilon || math.Abs(d) < singularDenominator {
		return it.transform.FromBoundary(fv), true
	}

	nd, dd := it.equation.NDd(tau, b)
	p := it.params
	fd := p.Strike * math.Exp(-(p.Rate-p.Dividend)*tau) * (nd/d - dd*n/(d*d))
	if math.Abs(fd-1) < flatDerivative {
		return it.transform.FromBoundary(fv), true
	}

	bNew, _ := firstValid(
		finite(func() float64 { return b - (fv-b)/(fd-1) }),
		finite(func() float64 { return fv }),
	)
	return it.transform.FromBoundary(bNew), true
}
