package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/mip"
	"github.com/alejandrodnm/flexbid/internal/ports"
)

func TestRelaxation_ColumnLayout(t *testing.T) {
	m := mip.NewModel("layout")
	lower := m.NewVar("lower", mip.Continuous, 2, 5)
	upper := m.NewVar("upper", mip.Continuous, math.Inf(-1), 4)
	free := m.NewVar("free", mip.Continuous, math.Inf(-1), math.Inf(1))
	fixed := m.NewVar("fixed", mip.Continuous, 3, 3)

	lb := []float64{2, math.Inf(-1), math.Inf(-1), 3}
	ub := []float64{5, 4, math.Inf(1), 3}
	r, err := newRelaxation(m, lb, ub, 1e-7)
	require.NoError(t, err)

	assert.Equal(t, 4, r.nStruct)
	assert.Equal(t, []colRef{{col: 0, sign: 1}}, r.cols[lower])
	assert.Equal(t, []colRef{{col: 1, sign: -1}}, r.cols[upper])
	assert.Len(t, r.cols[free], 2)
	assert.Empty(t, r.cols[fixed])
	assert.Equal(t, 3.0, r.offset[fixed])
	// Sólo "lower" tiene fila de cota superior.
	require.Len(t, r.rows, 1)
	assert.Equal(t, 3.0, r.rows[0].rhs)
}

func TestRelaxation_EmptyRowAfterFixing(t *testing.T) {
	m := mip.NewModel("empty")
	x := m.NewVar("x", mip.Continuous, 2, 2)
	var e mip.Expr
	e.Add(x, 1)
	m.AddConstraint("le", e, mip.LE, 1)

	_, err := newRelaxation(m, []float64{2}, []float64{2}, 1e-7)
	assert.ErrorIs(t, err, errLPInfeasible)
}

func unstablePrimal(t *testing.T) {
	t.Helper()
	orig := primalSimplex
	t.Cleanup(func() { primalSimplex = orig })
	primalSimplex = func(*mip.Model, []float64, []float64, float64) (float64, []float64, error) {
		return 0, nil, errLPNumerical
	}
}

func TestSolve_EngineFailureAtRootIsSolverFailure(t *testing.T) {
	unstablePrimal(t)
	orig := lpSolve
	t.Cleanup(func() { lpSolve = orig })
	lpSolve = func(c []float64, A mat.Matrix, b []float64, tol float64, initialBasic []int) (float64, []float64, error) {
		return math.NaN(), nil, errors.New("ill-conditioned basis")
	}

	m := mip.NewModel("fail")
	x := m.NewNonNeg("x")
	var e mip.Expr
	e.Add(x, 1)
	m.AddConstraint("r", e, mip.LE, 1)

	s := New(Options{})
	require.NoError(t, s.Build(m))
	_, err := s.Solve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSolverFailure)
}

func TestSolve_FallsBackToGonumWhenUnstable(t *testing.T) {
	unstablePrimal(t)

	m := mip.NewModel("fallback")
	x := m.NewNonNeg("x")
	y := m.NewNonNeg("y")
	m.AddObjective(x, -1)
	m.AddObjective(y, -1)
	var a, b mip.Expr
	a.Add(x, 1)
	a.Add(y, 2)
	b.Add(x, 3)
	b.Add(y, 1)
	m.AddConstraint("a", a, mip.LE, 4)
	m.AddConstraint("b", b, mip.LE, 6)

	s := New(Options{})
	require.NoError(t, s.Build(m))
	status, err := s.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ports.StatusOptimal, status)
	assert.InDelta(t, -2.8, s.Objective(), 1e-6)
}

func TestSimplex_WrappedSingularIsRetriedWithSplitRows(t *testing.T) {
	orig := lpSolve
	t.Cleanup(func() { lpSolve = orig })
	calls := 0
	lpSolve = func(c []float64, A mat.Matrix, b []float64, tol float64, initialBasic []int) (float64, []float64, error) {
		calls++
		if calls == 1 {
			// lp.Simplex envuelve los fallos de fase 1 sin %w
			return math.NaN(), nil, fmt.Errorf("lp: error finding feasible basis: %s", lp.ErrSingular)
		}
		return orig(c, A, b, tol, initialBasic)
	}

	m := mip.NewModel("split")
	x := m.NewNonNeg("x")
	y := m.NewNonNeg("y")
	m.AddObjective(x, 1)
	m.AddObjective(y, 2)
	var e mip.Expr
	e.Add(x, 1)
	e.Add(y, 1)
	m.AddConstraint("sum", e, mip.EQ, 3)

	lb, ub := clampBounds([]float64{0, 0}, []float64{math.Inf(1), math.Inf(1)}, bigBound)
	r, err := newRelaxation(m, lb, ub, 1e-7)
	require.NoError(t, err)
	obj, vals, err := r.solve(1e-7)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.InDelta(t, 3, obj, 1e-6)
	assert.InDelta(t, 3, vals[x], 1e-6)
}

func TestIsSingular(t *testing.T) {
	assert.True(t, isSingular(lp.ErrSingular))
	assert.True(t, isSingular(fmt.Errorf("lp: error finding feasible basis: %s", lp.ErrSingular)))
	assert.False(t, isSingular(nil))
	assert.False(t, isSingular(lp.ErrInfeasible))
	assert.True(t, matches(fmt.Errorf("lp: error finding feasible basis: %s", lp.ErrInfeasible), lp.ErrInfeasible))
}

func TestClampBounds(t *testing.T) {
	lo, hi := clampBounds([]float64{math.Inf(-1), 0}, []float64{math.Inf(1), 2}, 10)
	assert.Equal(t, []float64{-10, 0}, lo)
	assert.Equal(t, []float64{10, 2}, hi)
}
