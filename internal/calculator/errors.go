package calculator

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks inputs that violate an invariant. Raised before any
	// engine work and never retried.
	ErrValidation = errors.New("invalid calculation input")
	// ErrConstruction marks a backend that could not be built.
	ErrConstruction = errors.New("engine construction failed")
	// ErrCalculation marks a backend failure in the middle of a calculation.
	ErrCalculation = errors.New("calculation failed")
)

type ValidationError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s (got %v)", ErrValidation, e.Field, e.Reason, e.Value)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type ConstructionError struct {
	Engine string
	Err    error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrConstruction, e.Engine, e.Err)
}

func (e *ConstructionError) Unwrap() []error { return []error{ErrConstruction, e.Err} }

// NewConstructionError wraps err as a construction failure of engine.
func NewConstructionError(engine string, err error) error {
	return &ConstructionError{Engine: engine, Err: err}
}

type CalculationError struct {
	Engine string
	Err    error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCalculation, e.Engine, e.Err)
}

func (e *CalculationError) Unwrap() []error { return []error{ErrCalculation, e.Err} }

// NewCalculationError wraps err as a calculation failure of engine.
func NewCalculationError(engine string, err error) error {
	return &CalculationError{Engine: engine, Err: err}
}
