package scenario

import (
	"context"
	"fmt"
	"math"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/mip"
	"github.com/alejandrodnm/flexbid/internal/ports"
)

// MomentMatching elige target escenarios minimizando el error absoluto en
// media y varianza de los precios de capacidad y regulación de cada periodo
// de [from, to). Se resuelve como MIP con un binario por escenario.
func MomentMatching(ctx context.Context, solvers ports.SolverFactory, set domain.ScenarioSet, target, from, to int) (Selection, error) {
	if solvers == nil {
		return Selection{}, fmt.Errorf("scenario.MomentMatching: no solver factory: %w", domain.ErrSolverFailure)
	}
	n := len(set)
	m := mip.NewModel("scenario_selection")
	x := make([]mip.Var, n)
	var count mip.Expr
	for i := range x {
		x[i] = m.NewBinary(fmt.Sprintf("x_%d", i))
		count.Add(x[i], 1)
	}
	m.AddConstraint("count", count, mip.EQ, float64(target))

	series := []struct {
		name string
		f    func(domain.Scenario, int) float64
	}{
		{"cap_down", func(s domain.Scenario, t int) float64 { return s.CapacityPayment(domain.Down, t) }},
		{"cap_up", func(s domain.Scenario, t int) float64 { return s.CapacityPayment(domain.Up, t) }},
		{"down", func(s domain.Scenario, t int) float64 { return s.Price(domain.Down, t) }},
		{"up", func(s domain.Scenario, t int) float64 { return s.Price(domain.Up, t) }},
	}
	for t := from; t < to; t++ {
		for _, sr := range series {
			mean := 0.0
			for _, sc := range set {
				mean += sr.f(sc, t)
			}
			mean /= float64(n)
			variance := 0.0
			for _, sc := range set {
				variance += math.Pow(sr.f(sc, t)-mean, 2)
			}
			if variance == 0 {
				// Serie constante: cualquier selección la reproduce.
				continue
			}
			variance /= float64(n - 1)

			addAbsError(m, fmt.Sprintf("mean_%s_%d", sr.name, t), x, func(i int) float64 {
				return sr.f(set[i], t) / float64(target)
			}, mean)
			if target > 1 {
				addAbsError(m, fmt.Sprintf("var_%s_%d", sr.name, t), x, func(i int) float64 {
					return math.Pow(sr.f(set[i], t)-mean, 2) / float64(target-1)
				}, variance)
			}
		}
	}

	s, err := solvers.NewSolver()
	if err != nil {
		return Selection{}, fmt.Errorf("scenario.MomentMatching: new solver: %w", err)
	}
	defer s.Close()
	if err := s.Build(m); err != nil {
		return Selection{}, fmt.Errorf("scenario.MomentMatching: build: %w", err)
	}
	status, err := s.Solve(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("scenario.MomentMatching: solve: %w", err)
	}
	if !status.HasSolution() {
		return Selection{}, fmt.Errorf("scenario.MomentMatching: status %s: %w", status, domain.ErrSolverFailure)
	}

	var idx []int
	for i, v := range x {
		if s.Value(v) > 0.8 {
			idx = append(idx, i)
		}
	}
	return renormalized(set, idx), nil
}

// addAbsError añade Σ coef(i)·x_i − e⁺ + e⁻ = target y penaliza e⁺ + e⁻.
func addAbsError(m *mip.Model, name string, x []mip.Var, coef func(int) float64, target float64) {
	pos := m.NewNonNeg(name + "_pos")
	neg := m.NewNonNeg(name + "_neg")
	var e mip.Expr
	for i, v := range x {
		e.Add(v, coef(i))
	}
	e.Add(pos, -1).Add(neg, 1)
	m.AddConstraint(name, e, mip.EQ, target)
	m.AddObjective(pos, 1)
	m.AddObjective(neg, 1)
}
