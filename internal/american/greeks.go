package american

import (
	"context"
	"math"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

const (
	// relative spot bump for delta and gamma
	spotBump = 1e-3
	// absolute volatility and rate bumps
	volBump  = 1e-3
	rateBump = 1e-4
	// largest maturity bump, one calendar day
	maxTimeBump = 1.0 / 365

	minImpliedVol = 1e-4
	maxImpliedVol = 5.0
	impliedVolAcc = 1e-8
	impliedVolMax = 100
)

// Greeks are finite-difference sensitivities of the American price
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	// Theta is the change in value per year of calendar time, -∂V/∂T
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// Greeks returns central-difference Greeks of the American option
func (e *Engine) Greeks(ctx context.Context, p Params, t OptionType) (Greeks, error) {
	if err := p.Validate(); err != nil {
		return Greeks{}, err
	}

	price := func(q Params) (float64, error) {
		res, err := e.Price(ctx, q, t)
		return res.Price, err
	}
	central := func(bump func(Params, float64) Params, h float64) (float64, float64, error) {
		up, err := price(bump(p, h))
		if err != nil {
			return 0, 0, err
		}
		down, err := price(bump(p, -h))
		if err != nil {
			return 0, 0, err
		}
		return up, down, nil
	}

	base, err := price(p)
	if err != nil {
		return Greeks{}, err
	}

	var g Greeks

	hs := spotBump * p.Spot
	up, down, err := central(func(q Params, h float64) Params { q.Spot += h; return q }, hs)
	if err != nil {
		return Greeks{}, errors.Wrap(err, "delta")
	}
	g.Delta = (up - down) / (2 * hs)
	g.Gamma = (up - 2*base + down) / (hs * hs)

	if p.Volatility > volBump {
		up, down, err = central(func(q Params, h float64) Params { q.Volatility += h; return q }, volBump)
		if err != nil {
			return Greeks{}, errors.Wrap(err, "vega")
		}
		g.Vega = (up - down) / (2 * volBump)
	} else {
		bumped := p
		bumped.Volatility += volBump
		if up, err = price(bumped); err != nil {
			return Greeks{}, errors.Wrap(err, "vega")
		}
		g.Vega = (up - base) / volBump
	}

	if ht := math.Min(maxTimeBump, 0.5*p.Maturity); ht > 0 {
		up, down, err = central(func(q Params, h float64) Params { q.Maturity += h; return q }, ht)
		if err != nil {
			return Greeks{}, errors.Wrap(err, "theta")
		}
		g.Theta = -(up - down) / (2 * ht)
	}

	hr := math.Min(rateBump, MaxAbsRate-math.Abs(p.Rate))
	if hr > 0 {
		up, down, err = central(func(q Params, h float64) Params { q.Rate += h; return q }, hr)
		if err != nil {
			return Greeks{}, errors.Wrap(err, "rho")
		}
		g.Rho = (up - down) / (2 * hr)
	}

	return g, nil
}

// ImpliedVolatility finds the volatility in [1e-4, 5] at which the American
// price matches target
func (e *Engine) ImpliedVolatility(ctx context.Context, p Params, t OptionType, target float64) (float64, error) {
	p.Volatility = minImpliedVol
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if !isFinite(target) || target <= 0 {
		return 0, errors.InvalidInputf("target price must be positive, got %g", target)
	}

	var solveErr error
	objective := func(vol float64) float64 {
		q := p
		q.Volatility = vol
		res, err := e.Price(ctx, q, t)
		if err != nil {
			solveErr = err
			return math.NaN()
		}
		return res.Price - target
	}

	lo := objective(minImpliedVol)
	if solveErr != nil {
		return 0, solveErr
	}
	if lo > 0 {
		return 0, errors.InvalidInputf("target %g is below the minimum-volatility price %g", target, lo+target)
	}
	if lo == 0 {
		return minImpliedVol, nil
	}

	hi := objective(maxImpliedVol)
	if solveErr != nil {
		return 0, solveErr
	}
	if hi < 0 {
		return 0, errors.InvalidInputf("target %g is above the price at volatility %g", target, maxImpliedVol)
	}

	guess := 0.5 * (minImpliedVol + maxImpliedVol)
	if t == Put {
		// Brenner-Subrahmanyam starting point
		guess = numeric.Clamp(math.Sqrt(2*math.Pi/p.Maturity)*target/p.Spot, minImpliedVol, maxImpliedVol)
	}

	vol, err := numeric.NewBrent(impliedVolMax).Solve(objective, impliedVolAcc, guess, minImpliedVol, maxImpliedVol)
	if solveErr != nil {
		return 0, solveErr
	}
	if err != nil {
		return 0, errors.Wrap(err, "implied volatility")
	}
	return vol, nil
}
