package american

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/internal/spectral"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// Method names the stage that produced a price
type Method string

const (
	// MethodQdFp is the fixed-point refined boundary
	MethodQdFp Method = "qdfp"
	// MethodQdPlus is the QD+ boundary without refinement
	MethodQdPlus Method = "qdplus"
	// MethodEuropean is the European price, used when no early exercise premium applies or as last resort
	MethodEuropean Method = "european"
	// MethodEdgeCase is a closed-form degenerate case
	MethodEdgeCase Method = "edge_case"
)

// OptionType is put or call
type OptionType int

const (
	// Put is an American put
	Put OptionType = iota
	// Call is an American call
	Call
)

// String returns "put" or "call"
func (o OptionType) String() string {
	if o == Call {
		return "call"
	}
	return "put"
}

// ParseOptionType parses "put" or "call"
func ParseOptionType(name string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "put", "p":
		return Put, nil
	case "call", "c":
		return Call, nil
	default:
		return 0, errors.InvalidInputf("unknown option type %q", name)
	}
}

// Result is a priced option
type Result struct {
	Price       float64      `json:"price"`
	European    float64      `json:"european"`
	Premium     float64      `json:"premium"`
	Method      Method       `json:"method"`
	Equation    Equation     `json:"equation"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// Engine prices American options. An Engine holds no per-call state and is safe
// for concurrent use.
type Engine struct {
	scheme   Scheme
	equation Equation
	workers  int
	qdPlus   QdPlusConfig
	recorder MetricsRecorder
	log      *logger.Logger

	qdPlusPremium numeric.Integrator
}

// Option configures an Engine
type Option func(*Engine)

// WithScheme sets the discretization scheme
func WithScheme(s Scheme) Option {
	return func(e *Engine) {
		e.scheme = s
	}
}

// WithEquation forces a fixed-point equation
func WithEquation(eq Equation) Option {
	return func(e *Engine) {
		e.equation = eq
	}
}

// WithWorkers sets the number of goroutines used per pricing call for node work
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithQdPlus configures the QD+ boundary solver
func WithQdPlus(c QdPlusConfig) Option {
	return func(e *Engine) {
		e.qdPlus = c
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r MetricsRecorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an engine. The default is the accurate scheme, automatic
// equation selection, Halley QD+ seeding and a single worker.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		scheme:   AccurateScheme(),
		equation: EquationAuto,
		workers:  1,
		qdPlus:   DefaultQdPlusConfig(),
		recorder: noopRecorder{},
		log:      logger.GetLogger("american.engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.scheme.Validate(); err != nil {
		return nil, err
	}
	if err := e.qdPlus.Validate(); err != nil {
		return nil, err
	}
	if e.equation < EquationAuto || e.equation > EquationB {
		return nil, errors.InvalidInputf("unknown fixed-point equation %d", int(e.equation))
	}
	if e.workers < 1 {
		return nil, errors.InvalidInputf("workers must be positive, got %d", e.workers)
	}

	premium, err := numeric.NewGaussLobatto(lobattoMaxEvaluations, 0.1*e.qdPlus.Tolerance, 0)
	if err != nil {
		return nil, err
	}
	e.qdPlusPremium = premium

	return e, nil
}

// Scheme returns the configured scheme
func (e *Engine) Scheme() Scheme {
	return e.scheme
}

// Price prices an American put or call
func (e *Engine) Price(ctx context.Context, p Params, t OptionType) (Result, error) {
	if t == Call {
		return e.PriceCall(ctx, p)
	}
	return e.PricePut(ctx, p)
}

// PriceCall prices an American call through put-call symmetry
func (e *Engine) PriceCall(ctx context.Context, p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	return e.PricePut(ctx, p.Mirror())
}

// CalculatePut returns the American put price
func (e *Engine) CalculatePut(ctx context.Context, p Params) (float64, error) {
	res, err := e.PricePut(ctx, p)
	return res.Price, err
}

// CalculateCall returns the American call price
func (e *Engine) CalculateCall(ctx context.Context, p Params) (float64, error) {
	res, err := e.PriceCall(ctx, p)
	return res.Price, err
}

// PricePut prices an American put. Degenerate inputs are answered in closed
// form; otherwise the fixed-point price is tried first, then the QD+ price and
// finally the European price.
func (e *Engine) PricePut(ctx context.Context, p Params) (Result, error) {
	start := time.Now()

	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	european := EuropeanPut(p)

	if price, ok := edgeCasePut(p, european); ok {
		e.recorder.RecordPricing(MethodEdgeCase, EquationAuto, time.Since(start))
		return finalize(p, price, european, MethodEdgeCase), nil
	}

	if ClassifyRegime(p.Rate, p.Dividend) == RegimeDoubleBoundary {
		return Result{}, errors.InvalidInputf("double-boundary case q < r < 0 is not supported (r=%g, q=%g)", p.Rate, p.Dividend)
	}

	diag := &Diagnostics{}
	methods := [...]Method{MethodQdFp, MethodQdPlus, MethodEuropean}

	price, stage := firstValid(
		e.attempt(MethodQdFp, func() (float64, error) {
			return e.qdfpPrice(ctx, p, european, diag)
		}),
		e.attempt(MethodQdPlus, func() (float64, error) {
			return e.qdPlusPrice(ctx, p, european)
		}),
		finite(func() float64 { return european }),
	)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if stage < 0 {
		return Result{}, errors.Internal("no pricing stage produced a finite price")
	}
	method := methods[stage]
	if method != MethodQdFp {
		e.log.Warnw("Pricing degraded", "method", method, "spot", p.Spot, "strike", p.Strike)
	}

	res := finalize(p, price, european, method)
	res.Equation = diag.Equation
	res.Diagnostics = diag
	e.recorder.RecordPricing(method, diag.Equation, time.Since(start))

	return res, nil
}

// PriceQdPlus prices with the unrefined QD+ boundary
func (e *Engine) PriceQdPlus(ctx context.Context, p Params, t OptionType) (Result, error) {
	start := time.Now()

	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if t == Call {
		p = p.Mirror()
	}
	european := EuropeanPut(p)

	if price, ok := edgeCasePut(p, european); ok {
		return finalize(p, price, european, MethodEdgeCase), nil
	}
	if ClassifyRegime(p.Rate, p.Dividend) == RegimeDoubleBoundary {
		return Result{}, errors.InvalidInputf("double-boundary case q < r < 0 is not supported (r=%g, q=%g)", p.Rate, p.Dividend)
	}

	price, err := e.qdPlusPrice(ctx, p, european)
	if err != nil {
		return Result{}, err
	}

	e.recorder.RecordPricing(MethodQdPlus, EquationAuto, time.Since(start))
	return finalize(p, price, european, MethodQdPlus), nil
}

func (e *Engine) attempt(method Method, price func() (float64, error)) attempt[float64] {
	return func() (float64, bool) {
		v, err := price()
		if err == nil && isFinite(v) {
			return v, true
		}
		if err != nil {
			e.log.Warnw("Pricing stage failed", "method", method, "error", err)
		} else {
			e.log.Warnw("Pricing stage returned a non-finite price", "method", method, "price", v)
		}
		e.recorder.RecordFallback(method)
		return 0, false
	}
}

// finalize floors the price at intrinsic and European values and caps it at
// max(K, K e^{-rT}), the value of receiving the strike at the best time
func finalize(p Params, price, european float64, method Method) Result {
	upper := math.Max(p.Strike, p.Strike*math.Exp(-p.Rate*p.Maturity))
	price = math.Min(math.Max(price, math.Max(p.Intrinsic(), european)), upper)
	return Result{
		Price:    price,
		European: european,
		Premium:  math.Max(price-european, 0),
		Method:   method,
	}
}

// edgeCasePut answers the inputs that need no boundary
func edgeCasePut(p Params, european float64) (float64, bool) {
	s, k, r, q, vol, t := p.Spot, p.Strike, p.Rate, p.Dividend, p.Volatility, p.Maturity

	switch {
	case closeToZero(k):
		return 0, true
	case closeToZero(s):
		return math.Max(k, k*math.Exp(-r*t)), true
	case closeToZero(t):
		return p.Intrinsic(), true
	case ClassifyRegime(r, q) == RegimeEuropean:
		return european, true
	case closeToZero(vol):
		return deterministicPut(p), true
	}
	return 0, false
}

// deterministicPut is the put value without volatility: the best of exercising
// now, at maturity, or at the time where K e^{-rt} - S e^{-qt} peaks
func deterministicPut(p Params) float64 {
	s, k, r, q, t := p.Spot, p.Strike, p.Rate, p.Dividend, p.Maturity
	intrinsic := func(u float64) float64 {
		return math.Max(0, k*math.Exp(-r*u)-s*math.Exp(-q*u))
	}

	best := math.Max(intrinsic(0), intrinsic(t))
	if numeric.CloseEnough(r, q) {
		return best
	}

	extremum := math.Log(r*k/(q*s)) / (r - q)
	if extremum > 0 && extremum < t {
		best = math.Max(best, intrinsic(extremum))
	}
	return best
}

// boundarySolution is a refined exercise boundary
type boundarySolution struct {
	transform *Transform
	interp    *spectral.Interpolation
	boundary  BoundaryFunc
}

// solveBoundary seeds the boundary with QD+ and refines it by fixed-point iteration
func (e *Engine) solveBoundary(ctx context.Context, p Params, diag *Diagnostics) (*boundarySolution, error) {
	transform := NewTransform(p)

	interp, stats, err := NewQdPlus(p, e.qdPlus).Interpolation(ctx, transform, e.scheme.Nodes, e.workers)
	if err != nil {
		return nil, errors.Wrap(err, "qd+ seeding")
	}
	diag.Nodes = e.scheme.Nodes
	diag.QdPlusEvaluations = stats.evaluations
	diag.BrentFallbacks = stats.brentFallbacks
	e.recorder.RecordSolverFallbacks(stats.brentFallbacks)

	kind := SelectEquation(p, e.equation)
	diag.Equation = kind

	boundary := transform.Boundary(interp)
	eq := newFixedPointEquation(kind, p, boundary, e.scheme.FixedPointIntegrator)

	it := newIteration(p, transform, interp, boundary, eq, e.workers, e.log)
	if err := it.run(ctx, e.scheme.JacobiNewtonSteps, e.scheme.RichardsonSteps, diag); err != nil {
		return nil, err
	}

	if diag.RecoveredNodes > 0 {
		e.log.Warnf("Kept previous boundary value on %d node updates", diag.RecoveredNodes)
		e.recorder.RecordRecoveredNodes(diag.RecoveredNodes)
	}
	if diag.Diverged {
		e.recorder.RecordDivergence()
	}

	return &boundarySolution{transform: transform, interp: interp, boundary: boundary}, nil
}

func (e *Engine) qdfpPrice(ctx context.Context, p Params, european float64, diag *Diagnostics) (float64, error) {
	sol, err := e.solveBoundary(ctx, p, diag)
	if err != nil {
		return 0, err
	}

	premium, err := earlyExercisePremium(p, sol.boundary, e.scheme.PremiumIntegrator)
	if err != nil {
		return 0, err
	}
	return math.Max(european, 0) + math.Max(premium, 0), nil
}

func (e *Engine) qdPlusPrice(ctx context.Context, p Params, european float64) (float64, error) {
	transform := NewTransform(p)

	interp, stats, err := NewQdPlus(p, e.qdPlus).Interpolation(ctx, transform, e.qdPlus.Nodes, e.workers)
	if err != nil {
		return 0, errors.Wrap(err, "qd+ boundary")
	}
	e.recorder.RecordSolverFallbacks(stats.brentFallbacks)

	premium, err := earlyExercisePremium(p, transform.Boundary(interp), e.qdPlusPremium)
	if err != nil {
		return 0, err
	}
	return math.Max(european, 0) + math.Max(premium, 0), nil
}

// ExerciseBoundary is a refined put exercise boundary
type ExerciseBoundary struct {
	// Taus are the collocation times to maturity, increasing from 0 to T
	Taus []float64
	// Values are the boundary prices at Taus
	Values      []float64
	Equation    Equation
	Diagnostics *Diagnostics

	fn BoundaryFunc
}

// At evaluates the boundary at time to maturity tau
func (b *ExerciseBoundary) At(tau float64) float64 {
	return b.fn(tau)
}

// PutExerciseBoundary refines and returns the put exercise boundary for p
func (e *Engine) PutExerciseBoundary(ctx context.Context, p Params) (*ExerciseBoundary, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if ClassifyRegime(p.Rate, p.Dividend) != RegimeSingleBoundary {
		return nil, errors.InvalidInputf("no single exercise boundary for r=%g, q=%g", p.Rate, p.Dividend)
	}
	if p.Maturity <= 0 || closeToZero(p.Volatility) {
		return nil, errors.InvalidInput("exercise boundary needs positive maturity and volatility")
	}

	diag := &Diagnostics{}
	sol, err := e.solveBoundary(ctx, p, diag)
	if err != nil {
		return nil, err
	}

	nodes := sol.interp.Nodes()
	eb := &ExerciseBoundary{
		Taus:        make([]float64, len(nodes)),
		Values:      make([]float64, len(nodes)),
		Equation:    diag.Equation,
		Diagnostics: diag,
		fn:          sol.boundary,
	}
	for i, z := range nodes {
		eb.Taus[i] = sol.transform.Tau(z)
		eb.Values[i] = sol.boundary(eb.Taus[i])
	}
	return eb, nil
}

var defaultEngine = sync.OnceValues(func() (*Engine, error) {
	return NewEngine()
})

// CalculatePut prices an American put with the default engine
func CalculatePut(spot, strike, rate, dividend, volatility, maturity float64) (float64, error) {
	e, err := defaultEngine()
	if err != nil {
		return 0, err
	}
	return e.CalculatePut(context.Background(), Params{
		Spot:       spot,
		Strike:     strike,
		Rate:       rate,
		Dividend:   dividend,
		Volatility: volatility,
		Maturity:   maturity,
	})
}

// CalculateCall prices an American call with the default engine
func CalculateCall(spot, strike, rate, dividend, volatility, maturity float64) (float64, error) {
	e, err := defaultEngine()
	if err != nil {
		return 0, err
	}
	return e.CalculateCall(context.Background(), Params{
		Spot:       spot,
		Strike:     strike,
		Rate:       rate,
		Dividend:   dividend,
		Volatility: volatility,
		Maturity:   maturity,
	})
}
