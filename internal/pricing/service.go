package pricing

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/rzzdr/qdfp-pricer/internal/american"
	"github.com/rzzdr/qdfp-pricer/pkg/models"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// maxBoundarySamples bounds the extra points of a boundary request
const maxBoundarySamples = 1000

// ServiceConfig contains configuration for the pricing service
type ServiceConfig struct {
	// BatchWorkers is the number of concurrent pricings in a batch
	BatchWorkers int
	// MaxBatchSize rejects larger batches
	MaxBatchSize int
}

// ErrorRecorder counts failed requests by error type
type ErrorRecorder interface {
	RecordPricingError(errType string)
}

// Service prices wire requests with an American engine
type Service struct {
	config ServiceConfig
	engine *american.Engine
	errors ErrorRecorder
	log    *logger.Logger
}

// NewService creates a pricing service. recorder may be nil.
func NewService(config ServiceConfig, engine *american.Engine, recorder ErrorRecorder) *Service {
	if config.BatchWorkers <= 0 {
		config.BatchWorkers = 4
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 1000
	}

	return &Service{
		config: config,
		engine: engine,
		errors: recorder,
		log:    logger.GetLogger("pricing.service"),
	}
}

// Engine returns the underlying engine
func (s *Service) Engine() *american.Engine {
	return s.engine
}

// ContractParams converts a wire contract to engine parameters
func ContractParams(c models.OptionContract) (american.Params, american.OptionType, error) {
	t := american.Put
	if strings.TrimSpace(c.OptionType) != "" {
		var err error
		if t, err = american.ParseOptionType(c.OptionType); err != nil {
			return american.Params{}, 0, err
		}
	}

	p := american.Params{
		Spot:       c.Spot,
		Strike:     c.Strike,
		Rate:       c.Rate,
		Dividend:   c.Dividend,
		Volatility: c.Volatility,
		Maturity:   c.Maturity,
	}
	return p, t, p.Validate()
}

// Price prices one request
func (s *Service) Price(ctx context.Context, req models.PricingRequest) (models.PricingResult, error) {
	start := time.Now()

	p, t, err := ContractParams(req.OptionContract)
	if err != nil {
		return models.PricingResult{}, s.fail(err)
	}

	var res american.Result
	switch strings.ToLower(strings.TrimSpace(req.Method)) {
	case "", models.MethodQdFp:
		res, err = s.engine.Price(ctx, p, t)
	case models.MethodQdPlus:
		res, err = s.engine.PriceQdPlus(ctx, p, t)
	default:
		err = errors.InvalidInputf("unknown pricing method %q", req.Method)
	}
	if err != nil {
		return models.PricingResult{}, s.fail(err)
	}

	out := models.PricingResult{
		ID:          req.ID,
		Symbol:      req.Symbol,
		OptionType:  t.String(),
		Price:       res.Price,
		European:    res.European,
		Premium:     res.Premium,
		Method:      string(res.Method),
		Diagnostics: diagnostics(res.Diagnostics),
	}
	if res.Diagnostics != nil && res.Method == american.MethodQdFp {
		out.Equation = res.Equation.String()
	}

	if req.Greeks {
		g, err := s.engine.Greeks(ctx, p, t)
		if err != nil {
			return models.PricingResult{}, s.fail(errors.Wrap(err, "greeks"))
		}
		out.Greeks = &models.Greeks{Delta: g.Delta, Gamma: g.Gamma, Theta: g.Theta, Vega: g.Vega, Rho: g.Rho}
	}

	out.Latency = time.Since(start).Microseconds()
	out.Timestamp = time.Now().UTC()
	return out, nil
}

// Result prices one request and reports failures inside the result
func (s *Service) Result(ctx context.Context, req models.PricingRequest) models.PricingResult {
	res, err := s.Price(ctx, req)
	if err != nil {
		return models.PricingResult{
			ID:         req.ID,
			Symbol:     req.Symbol,
			OptionType: req.OptionType,
			Error:      err.Error(),
			ErrorType:  errors.TypeOf(err).String(),
			Timestamp:  time.Now().UTC(),
		}
	}
	return res
}

// ImpliedVolatility finds the volatility that reproduces the target price
func (s *Service) ImpliedVolatility(ctx context.Context, req models.ImpliedVolRequest) (models.ImpliedVolResult, error) {
	c := req.OptionContract
	c.Volatility = 0
	p, t, err := ContractParams(c)
	if err != nil {
		return models.ImpliedVolResult{}, s.fail(err)
	}

	vol, err := s.engine.ImpliedVolatility(ctx, p, t, req.TargetPrice)
	if err != nil {
		return models.ImpliedVolResult{}, s.fail(err)
	}
	return models.ImpliedVolResult{ID: req.ID, ImpliedVolatility: vol, TargetPrice: req.TargetPrice}, nil
}

// Boundary returns the refined early exercise boundary. Call boundaries come
// from the symmetric put: B_call(τ) = S·K / B_put(τ) with spot and strike swapped.
func (s *Service) Boundary(ctx context.Context, req models.BoundaryRequest) (models.BoundaryResult, error) {
	if req.Points < 0 || req.Points > maxBoundarySamples {
		return models.BoundaryResult{}, s.fail(errors.InvalidInputf("points must be in [0, %d], got %d", maxBoundarySamples, req.Points))
	}

	p, t, err := ContractParams(req.OptionContract)
	if err != nil {
		return models.BoundaryResult{}, s.fail(err)
	}
	put := p
	if t == american.Call {
		put = p.Mirror()
	}

	eb, err := s.engine.PutExerciseBoundary(ctx, put)
	if err != nil {
		return models.BoundaryResult{}, s.fail(err)
	}

	value := func(b float64) float64 {
		if t == american.Call {
			return p.Spot * p.Strike / b
		}
		return b
	}

	out := models.BoundaryResult{
		OptionType:  t.String(),
		Equation:    eb.Equation.String(),
		Nodes:       make([]models.BoundaryPoint, len(eb.Taus)),
		Diagnostics: diagnostics(eb.Diagnostics),
	}
	for i, tau := range eb.Taus {
		out.Nodes[i] = models.BoundaryPoint{Tau: tau, Value: value(eb.Values[i])}
	}

	if req.Points > 0 {
		taus := make([]float64, req.Points)
		if req.Points == 1 {
			taus[0] = p.Maturity
		} else {
			floats.Span(taus, 0, p.Maturity)
		}
		out.Samples = make([]models.BoundaryPoint, len(taus))
		for i, tau := range taus {
			out.Samples[i] = models.BoundaryPoint{Tau: tau, Value: value(eb.At(tau))}
		}
	}

	return out, nil
}

// Batch prices requests concurrently. Item failures are reported in the
// results; only cancellation fails the batch.
func (s *Service) Batch(ctx context.Context, req models.BatchRequest) (models.BatchResult, error) {
	if n := len(req.Requests); n > s.config.MaxBatchSize {
		return models.BatchResult{}, s.fail(errors.InvalidInputf("batch of %d exceeds the limit of %d", n, s.config.MaxBatchSize))
	}

	results := make([]models.PricingResult, len(req.Requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.BatchWorkers)
	for i, r := range req.Requests {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.Result(gctx, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.BatchResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.BatchResult{}, err
	}

	out := models.BatchResult{Results: results}
	prices := make([]float64, 0, len(results))
	for i := range results {
		if results[i].Failed() {
			out.Failed++
			continue
		}
		out.Succeeded++
		prices = append(prices, results[i].Price)
	}
	out.TotalPrice = floats.Sum(prices)

	s.log.Debugw("Priced batch", "size", len(results), "failed", out.Failed)
	return out, nil
}

func (s *Service) fail(err error) error {
	if s.errors != nil {
		s.errors.RecordPricingError(errors.TypeOf(err).String())
	}
	return err
}

func diagnostics(d *american.Diagnostics) *models.Diagnostics {
	if d == nil || d.Nodes == 0 {
		return nil
	}
	return &models.Diagnostics{
		Nodes:             d.Nodes,
		PassChanges:       append([]float64(nil), d.PassChanges...),
		RecoveredNodes:    d.RecoveredNodes,
		Diverged:          d.Diverged,
		QdPlusEvaluations: d.QdPlusEvaluations,
		BrentFallbacks:    d.BrentFallbacks,
	}
}
