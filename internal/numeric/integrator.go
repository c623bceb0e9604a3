package numeric

import (
	stderrors "errors"
)

// ErrMaxEvaluations is returned, wrapped as a budget error, when an integrator or
// solver exhausts its evaluation budget
var ErrMaxEvaluations = stderrors.New("maximum number of function evaluations exceeded")

// Func is a real function of one variable
type Func func(x float64) float64

// Integrator integrates f over [a, b]
type Integrator interface {
	Integrate(f Func, a, b float64) (float64, error)
}

// Describer is implemented by integrators that can name themselves for diagnostics
type Describer interface {
	Describe() string
}
