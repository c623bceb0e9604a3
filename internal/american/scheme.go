package american

import (
	"strings"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

// lobattoMaxEvaluations is the evaluation budget of the adaptive schemes
const lobattoMaxEvaluations = 100000

// Scheme fixes the discretization of one pricing run
type Scheme struct {
	Name string
	// Nodes is the number of Chebyshev nodes of the boundary interpolant
	Nodes int
	// JacobiNewtonSteps is the number of Newton-corrected passes
	JacobiNewtonSteps int
	// RichardsonSteps is the number of plain fixed-point passes that follow
	RichardsonSteps int
	// FixedPointIntegrator evaluates the integrals inside the fixed-point equations
	FixedPointIntegrator numeric.Integrator
	// PremiumIntegrator evaluates the early exercise premium
	PremiumIntegrator numeric.Integrator
}

// Validate checks the scheme
func (s Scheme) Validate() error {
	if s.Nodes < 2 {
		return errors.InvalidInputf("scheme %q needs at least 2 nodes, got %d", s.Name, s.Nodes)
	}
	if s.JacobiNewtonSteps < 0 || s.RichardsonSteps < 0 {
		return errors.InvalidInputf("scheme %q has negative pass counts", s.Name)
	}
	if s.JacobiNewtonSteps+s.RichardsonSteps < 1 {
		return errors.InvalidInputf("scheme %q needs at least one fixed-point pass", s.Name)
	}
	if s.FixedPointIntegrator == nil || s.PremiumIntegrator == nil {
		return errors.InvalidInputf("scheme %q is missing an integrator", s.Name)
	}
	return nil
}

// NewScheme builds a scheme from explicit parts
func NewScheme(name string, nodes, jacobiNewton, richardson int, fixedPoint, premium numeric.Integrator) (Scheme, error) {
	s := Scheme{
		Name:                 name,
		Nodes:                nodes,
		JacobiNewtonSteps:    jacobiNewton,
		RichardsonSteps:      richardson,
		FixedPointIntegrator: fixedPoint,
		PremiumIntegrator:    premium,
	}
	return s, s.Validate()
}

// NewLegendreScheme is the Gauss-Legendre (l,m,n)-p scheme: order l inside the
// fixed-point equations, m passes (one Jacobi-Newton, m-1 Richardson), n+1
// Chebyshev nodes and order p for the premium.
func NewLegendreScheme(l, m, n, p int) (Scheme, error) {
	if m < 1 || n < 1 {
		return Scheme{}, errors.InvalidInputf("legendre scheme needs m ≥ 1 and n ≥ 1, got m=%d n=%d", m, n)
	}
	fp, err := numeric.NewGaussLegendre(l)
	if err != nil {
		return Scheme{}, err
	}
	premium, err := numeric.NewGaussLegendre(p)
	if err != nil {
		return Scheme{}, err
	}
	return NewScheme("legendre", n+1, 1, m-1, fp, premium)
}

// NewLegendreLobattoScheme is NewLegendreScheme with an adaptive Gauss-Lobatto
// premium integral of absolute accuracy eps/10
func NewLegendreLobattoScheme(l, m, n int, eps float64) (Scheme, error) {
	s, err := NewLegendreScheme(l, m, n, 1)
	if err != nil {
		return Scheme{}, err
	}
	premium, err := numeric.NewGaussLobatto(lobattoMaxEvaluations, 0.1*eps, 0)
	if err != nil {
		return Scheme{}, err
	}
	s.Name = "legendre-lobatto"
	s.PremiumIntegrator = premium
	return s, nil
}

// NewLobattoScheme uses adaptive Gauss-Lobatto of absolute accuracy eps/10
// everywhere, with m passes and n+1 nodes
func NewLobattoScheme(m, n int, eps float64) (Scheme, error) {
	if m < 1 || n < 1 {
		return Scheme{}, errors.InvalidInputf("lobatto scheme needs m ≥ 1 and n ≥ 1, got m=%d n=%d", m, n)
	}
	integrator, err := numeric.NewGaussLobatto(lobattoMaxEvaluations, 0.1*eps, 0)
	if err != nil {
		return Scheme{}, err
	}
	return NewScheme("lobatto", n+1, 1, m-1, integrator, integrator)
}

// FastScheme is the Legendre (7,2,7)-27 scheme
func FastScheme() Scheme {
	s, _ := NewLegendreScheme(7, 2, 7, 27)
	s.Name = "fast"
	return s
}

// AccurateScheme is the Legendre (25,5,13) scheme with a Lobatto 1e-8 premium
func AccurateScheme() Scheme {
	s, _ := NewLegendreLobattoScheme(25, 5, 13, 1e-8)
	s.Name = "accurate"
	return s
}

// HighPrecisionScheme is the Lobatto (10,30)-1e-10 scheme
func HighPrecisionScheme() Scheme {
	s, _ := NewLobattoScheme(10, 30, 1e-10)
	s.Name = "high_precision"
	return s
}

// ParseScheme returns the preset scheme with the given name
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fast":
		return FastScheme(), nil
	case "", "accurate":
		return AccurateScheme(), nil
	case "high_precision", "high-precision", "highprecision":
		return HighPrecisionScheme(), nil
	default:
		return Scheme{}, errors.InvalidInputf("unknown scheme %q", name)
	}
}
