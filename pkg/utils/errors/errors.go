package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of an error
type ErrorType uint

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInvalidInput represents rejected pricing parameters or requests
	ErrorTypeInvalidInput
	// ErrorTypeNumericalSingularity represents a degenerate denominator or derivative
	ErrorTypeNumericalSingularity
	// ErrorTypeSolverNonConvergence represents a root search that did not converge
	ErrorTypeSolverNonConvergence
	// ErrorTypeEconomicBound represents a value outside its economic range
	ErrorTypeEconomicBound
	// ErrorTypeBudgetExceeded represents an exhausted evaluation budget
	ErrorTypeBudgetExceeded
	// ErrorTypeInternal represents an internal error
	ErrorTypeInternal
)

var typeNames = map[ErrorType]string{
	ErrorTypeUnknown:              "unknown",
	ErrorTypeInvalidInput:         "invalid_input",
	ErrorTypeNumericalSingularity: "numerical_singularity",
	ErrorTypeSolverNonConvergence: "solver_non_convergence",
	ErrorTypeEconomicBound:        "economic_bound",
	ErrorTypeBudgetExceeded:       "budget_exceeded",
	ErrorTypeInternal:             "internal",
}

// String returns the snake_case name of the error type
func (t ErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new error with the given message
func New(message string) error {
	return &AppError{
		Type:    ErrorTypeUnknown,
		Message: message,
	}
}

// Newf creates a new error with the given format and arguments
func Newf(format string, args ...interface{}) error {
	return &AppError{
		Type:    ErrorTypeUnknown,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a message, keeping the type of the innermost AppError
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:    TypeOf(err),
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithType wraps err so that it classifies as errType
func WithType(err error, errType ErrorType, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the type of the first AppError in err's chain
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err classifies as errType
func IsType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// InvalidInput creates a new InvalidInput error
func InvalidInput(message string) error {
	return &AppError{
		Type:    ErrorTypeInvalidInput,
		Message: message,
	}
}

// InvalidInputf creates a new InvalidInput error with a formatted message
func InvalidInputf(format string, args ...interface{}) error {
	return InvalidInput(fmt.Sprintf(format, args...))
}

// NumericalSingularity creates a new NumericalSingularity error
func NumericalSingularity(message string) error {
	return &AppError{
		Type:    ErrorTypeNumericalSingularity,
		Message: message,
	}
}

// SolverNonConvergence creates a new SolverNonConvergence error
func SolverNonConvergence(message string) error {
	return &AppError{
		Type:    ErrorTypeSolverNonConvergence,
		Message: message,
	}
}

// EconomicBound creates a new EconomicBound error
func EconomicBound(message string) error {
	return &AppError{
		Type:    ErrorTypeEconomicBound,
		Message: message,
	}
}

// BudgetExceeded wraps err as a BudgetExceeded error
func BudgetExceeded(err error, message string) error {
	return WithType(err, ErrorTypeBudgetExceeded, message)
}

// Internal creates a new Internal error
func Internal(message string) error {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
	}
}
