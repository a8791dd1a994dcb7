package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/flexbid/internal/mip"
)

// Status es el resultado de una resolución.
type Status int

const (
	StatusOptimal Status = iota
	// StatusFeasible: se agotó el tiempo o los nodos con una solución entera.
	StatusFeasible
	StatusInfeasible
	StatusUnbounded
	// StatusNoSolution: se agotó el tiempo sin ninguna solución entera.
	StatusNoSolution
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusFeasible:
		return "feasible"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	}
	return "no_solution"
}

// HasSolution indica si Value y Objective son utilizables.
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// Solver es un motor MIP tratado como caja negra. Un handle se usa por una
// sola goroutine a la vez y se libera con Close.
type Solver interface {
	// Build carga el modelo. Llamadas sucesivas reemplazan el anterior.
	Build(model *mip.Model) error

	// Solve resuelve el modelo cargado respetando el límite de tiempo y el gap.
	Solve(ctx context.Context) (Status, error)

	// Save escribe el modelo cargado en formato LP.
	Save(path string) error

	SetTimeLimit(d time.Duration)
	SetMIPGap(gap float64)

	// Value devuelve el valor de la variable en la mejor solución.
	Value(v mip.Var) float64

	// Objective devuelve el valor objetivo de la mejor solución.
	Objective() float64

	// Nodes devuelve los nodos explorados en la última resolución.
	Nodes() int

	Close() error
}

// SolverFactory crea handles de solver nuevos.
type SolverFactory interface {
	NewSolver() (Solver, error)
}
