// Package solver implementa ports.Solver en Go puro: relajaciones LP con un
// simplex acotado sobre matrices de gonum (lp.Simplex como respaldo) y
// branch-and-bound en profundidad sobre las binarias.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/mip"
	"github.com/alejandrodnm/flexbid/internal/ports"
)

// Options configura un handle de solver.
type Options struct {
	TimeLimit time.Duration // 0 = sin límite
	MIPGap    float64       // gap relativo para podar nodos
	MaxNodes  int           // 0 = sin límite
	Tolerance float64       // tolerancia del simplex y de integralidad
}

func (o Options) withDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-7
	}
	if o.MIPGap < 0 {
		o.MIPGap = 0
	}
	return o
}

// Solver es un handle de branch-and-bound. No es seguro para uso concurrente:
// cada goroutine adquiere el suyo.
type Solver struct {
	opts   Options
	model  *mip.Model
	values []float64
	obj    float64
	nodes  int
	closed bool
}

// New crea un handle con las opciones dadas.
func New(opts Options) *Solver {
	return &Solver{opts: opts.withDefaults()}
}

// Factory crea handles con opciones comunes.
type Factory struct {
	Options Options
}

// NewSolver implementa ports.SolverFactory.
func (f Factory) NewSolver() (ports.Solver, error) {
	return New(f.Options), nil
}

func (s *Solver) Build(model *mip.Model) error {
	if s.closed {
		return fmt.Errorf("solver.Build: handle closed: %w", domain.ErrSolverFailure)
	}
	if model == nil {
		return fmt.Errorf("solver.Build: nil model: %w", domain.ErrSolverFailure)
	}
	s.model = model
	s.values = nil
	s.obj = math.NaN()
	s.nodes = 0
	return nil
}

func (s *Solver) SetTimeLimit(d time.Duration) { s.opts.TimeLimit = d }
func (s *Solver) SetMIPGap(gap float64)         { s.opts.MIPGap = math.Max(gap, 0) }

// Save escribe el modelo cargado en formato LP.
func (s *Solver) Save(path string) error {
	if s.model == nil {
		return fmt.Errorf("solver.Save: no model loaded: %w", domain.ErrSolverFailure)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("solver.Save: create %q: %w", path, err)
	}
	if err := s.model.WriteLP(f); err != nil {
		f.Close()
		return fmt.Errorf("solver.Save: write %q: %w", path, err)
	}
	return f.Close()
}

// Value devuelve el valor de v en la mejor solución, o NaN si no la hay.
func (s *Solver) Value(v mip.Var) float64 {
	if v == mip.NoVar {
		return 0
	}
	if s.values == nil || int(v) >= len(s.values) {
		return math.NaN()
	}
	return s.values[v]
}

func (s *Solver) Objective() float64 { return s.obj }
func (s *Solver) Nodes() int         { return s.nodes }

func (s *Solver) Close() error {
	s.closed = true
	s.model = nil
	s.values = nil
	return nil
}

// bigBound sustituye a las cotas infinitas para confirmar que un modelo es
// no acotado y para el motor de respaldo.
const bigBound = 1e8

type node struct {
	lb, ub  []float64
	bound   float64
	depth   int
	clamped bool
}

// Solve ejecuta branch-and-bound en profundidad. Ramifica sobre la binaria
// más fraccional y explora primero el lado más cercano al valor relajado.
func (s *Solver) Solve(ctx context.Context) (ports.Status, error) {
	if s.closed || s.model == nil {
		return ports.StatusNoSolution, fmt.Errorf("solver.Solve: no model loaded: %w", domain.ErrSolverFailure)
	}
	if err := s.model.Err(); err != nil {
		slog.Debug("solver: model has an impossible row", "model", s.model.Name, "err", err)
		return ports.StatusInfeasible, nil
	}

	vars := s.model.Variables()
	root := node{lb: make([]float64, len(vars)), ub: make([]float64, len(vars)), bound: math.Inf(-1)}
	var binaries []int
	for i, v := range vars {
		root.lb[i], root.ub[i] = v.LB, v.UB
		if v.Type == mip.Binary {
			binaries = append(binaries, i)
		}
	}

	var deadline time.Time
	if s.opts.TimeLimit > 0 {
		deadline = time.Now().Add(s.opts.TimeLimit)
	}

	free := make([]bool, len(vars))
	for i, v := range vars {
		free[i] = math.IsInf(v.LB, -1) || math.IsInf(v.UB, 1)
	}

	best := math.Inf(1)
	var incumbent []float64
	stack := []node{root}
	stopped := false
	s.nodes = 0

	for len(stack) > 0 {
		if ctx.Err() != nil || (!deadline.IsZero() && time.Now().After(deadline)) ||
			(s.opts.MaxNodes > 0 && s.nodes >= s.opts.MaxNodes) {
			stopped = true
			break
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if incumbent != nil && nd.bound >= s.cutoff(best) {
			continue
		}
		s.nodes++

		obj, x, err := s.relax(nd)
		switch {
		case errors.Is(err, errLPInfeasible):
			if nd.depth == 0 {
				return ports.StatusInfeasible, nil
			}
			continue
		case errors.Is(err, errLPUnbounded):
			if nd.depth == 0 && !nd.clamped {
				// se confirma con cotas grandes antes de declararlo no acotado
				lb, ub := clampBounds(nd.lb, nd.ub, bigBound)
				stack = append(stack, node{lb: lb, ub: ub, bound: math.Inf(-1), clamped: true})
				continue
			}
			if nd.depth == 0 {
				return ports.StatusUnbounded, nil
			}
			continue
		case err != nil:
			if nd.depth == 0 {
				return ports.StatusNoSolution, fmt.Errorf("solver.Solve: root relaxation: %v: %w", err, domain.ErrSolverFailure)
			}
			slog.Warn("solver: node relaxation failed, pruning", "depth", nd.depth, "err", err)
			continue
		}
		if nd.clamped && nd.depth == 0 && atClamp(x, free) {
			return ports.StatusUnbounded, nil
		}
		if incumbent != nil && obj >= s.cutoff(best) {
			continue
		}

		j := mostFractional(x, binaries, 1e-6)
		if j < 0 {
			for _, b := range binaries {
				x[b] = math.Round(x[b])
			}
			best, incumbent = obj, x
			slog.Debug("solver: new incumbent", "model", s.model.Name, "objective", obj, "nodes", s.nodes)
			continue
		}

		down := node{lb: clone(nd.lb), ub: clone(nd.ub), bound: obj, depth: nd.depth + 1}
		down.ub[j] = 0
		up := node{lb: clone(nd.lb), ub: clone(nd.ub), bound: obj, depth: nd.depth + 1}
		up.lb[j] = 1
		if x[j] >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}

	if incumbent == nil {
		if stopped {
			return ports.StatusNoSolution, nil
		}
		return ports.StatusInfeasible, nil
	}
	s.values, s.obj = incumbent, best
	if stopped {
		return ports.StatusFeasible, nil
	}
	return ports.StatusOptimal, nil
}

func (s *Solver) relax(nd node) (float64, []float64, error) {
	obj, x, err := primalSimplex(s.model, nd.lb, nd.ub, s.opts.Tolerance)
	if !errors.Is(err, errLPNumerical) {
		return obj, x, err
	}
	slog.Debug("solver: bounded simplex unstable, falling back to gonum", "model", s.model.Name, "depth", nd.depth)
	lb, ub := clampBounds(nd.lb, nd.ub, bigBound)
	r, err := newRelaxation(s.model, lb, ub, s.opts.Tolerance)
	if err != nil {
		return 0, nil, err
	}
	obj, x, err = r.solve(s.opts.Tolerance)
	if err == nil && !nd.clamped && atClamp(x, nil) {
		return 0, nil, errLPUnbounded
	}
	return obj, x, err
}

// atClamp indica si alguna variable (de las marcadas en free, o cualquiera si
// free es nil) ha llegado a ±bigBound.
func atClamp(x []float64, free []bool) bool {
	for j, v := range x {
		if free != nil && !free[j] {
			continue
		}
		if math.Abs(v) >= bigBound*(1-1e-6) {
			return true
		}
	}
	return false
}

// cutoff es el valor a partir del cual un nodo no puede mejorar el incumbente
// más allá del gap configurado.
func (s *Solver) cutoff(best float64) float64 {
	return best - s.opts.MIPGap*math.Abs(best) - 1e-9
}

func mostFractional(x []float64, binaries []int, tol float64) int {
	j, worst := -1, tol
	for _, b := range binaries {
		f := math.Abs(x[b] - math.Round(x[b]))
		if f > worst {
			j, worst = b, f
		}
	}
	return j
}

func clone(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	return out
}
