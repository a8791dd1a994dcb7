package domain

import "errors"

// Taxonomía de errores del core. Los adapters y la aplicación los envuelven con
// fmt.Errorf("pkg.Func: paso: %w", err) para que el caller use errors.Is.
var (
	// ErrInvalidConfiguration: el modelo y la configuración no encajan
	// (modo de clearing no soportado, serie de precios ausente, etc.).
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrSolverFailure: el solver no pudo instanciarse o no devolvió solución.
	ErrSolverFailure = errors.New("solver failure")

	// ErrInvalidModel: el modelo ensamblado tiene una fila sin variables que no
	// se puede cumplir (p. ej. una línea de red sin cargas y capacidad
	// negativa). Se detecta antes de llamar al solver.
	ErrInvalidModel = errors.New("invalid model")

	// ErrInfeasible y ErrUnbounded son casos particulares de ErrSolverFailure.
	ErrInfeasible = &solverStatusError{status: "infeasible"}
	ErrUnbounded  = &solverStatusError{status: "unbounded"}

	// ErrNumericAssertion: un invariante post-solve no se cumple.
	// Indica un defecto de modelado, no un input malo.
	ErrNumericAssertion = errors.New("numeric assertion failed")
)

type solverStatusError struct {
	status string
}

func (e *solverStatusError) Error() string { return "solver failure: model " + e.status }

// Unwrap permite errors.Is(err, ErrSolverFailure) sobre ErrInfeasible/ErrUnbounded.
func (e *solverStatusError) Unwrap() error { return ErrSolverFailure }
