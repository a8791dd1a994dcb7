package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flexbid/internal/mip"
)

func row(pairs ...any) mip.Expr {
	var e mip.Expr
	for i := 0; i < len(pairs); i += 2 {
		e.Add(pairs[i].(mip.Var), pairs[i+1].(float64))
	}
	return e
}

func modelBounds(m *mip.Model) ([]float64, []float64) {
	vars := m.Variables()
	lb, ub := make([]float64, len(vars)), make([]float64, len(vars))
	for i, v := range vars {
		lb[i], ub[i] = v.LB, v.UB
	}
	return lb, ub
}

func bounded(t *testing.T, m *mip.Model) (float64, []float64, error) {
	t.Helper()
	lb, ub := modelBounds(m)
	return solveBounded(m, lb, ub, 1e-7)
}

func TestSolveBounded_BoundFlipsWithoutPivot(t *testing.T) {
	m := mip.NewModel("flip")
	x := m.NewVar("x", mip.Continuous, 0, 2)
	y := m.NewVar("y", mip.Continuous, 0, 3)
	m.AddObjective(x, -1)
	m.AddObjective(y, -1)
	m.AddConstraint("cap", row(x, 1.0, y, 1.0), mip.LE, 10)

	obj, vals, err := bounded(t, m)
	require.NoError(t, err)
	assert.InDelta(t, -5, obj, 1e-9)
	assert.InDelta(t, 2, vals[x], 1e-9)
	assert.InDelta(t, 3, vals[y], 1e-9)
}

func TestSolveBounded_FreeColumnsWithoutSplitting(t *testing.T) {
	m := mip.NewModel("free")
	x := m.NewVar("x", mip.Continuous, math.Inf(-1), math.Inf(1))
	y := m.NewVar("y", mip.Continuous, math.Inf(-1), math.Inf(1))
	m.AddObjective(x, 1)
	m.AddObjective(y, 2)
	m.AddConstraint("link", row(x, 1.0, y, -1.0), mip.EQ, 1)
	m.AddConstraint("floor", row(y, 1.0), mip.GE, -5)

	obj, vals, err := bounded(t, m)
	require.NoError(t, err)
	assert.InDelta(t, -14, obj, 1e-7)
	assert.InDelta(t, -4, vals[x], 1e-7)
	assert.InDelta(t, -5, vals[y], 1e-7)
}

func TestSolveBounded_PhaseOneStartsAwayFromZero(t *testing.T) {
	m := mip.NewModel("phase1")
	x := m.NewVar("x", mip.Continuous, 1, 4)
	y := m.NewNonNeg("y")
	m.AddObjective(y, 1)
	m.AddConstraint("need", row(x, 1.0, y, 1.0), mip.GE, 6)
	m.AddConstraint("exact", row(x, 2.0, y, -1.0), mip.EQ, 6)

	obj, vals, err := bounded(t, m)
	require.NoError(t, err)
	assert.InDelta(t, 2, obj, 1e-7)
	assert.InDelta(t, 4, vals[x], 1e-7)
	assert.InDelta(t, 2, vals[y], 1e-7)
}

func TestSolveBounded_Infeasible(t *testing.T) {
	m := mip.NewModel("infeasible")
	x := m.NewVar("x", mip.Continuous, 0, 1)
	m.AddConstraint("above", row(x, 1.0), mip.GE, 2)

	_, _, err := bounded(t, m)
	assert.ErrorIs(t, err, errLPInfeasible)
}

func TestSolveBounded_Unbounded(t *testing.T) {
	m := mip.NewModel("unbounded")
	x := m.NewNonNeg("x")
	y := m.NewNonNeg("y")
	m.AddObjective(x, -1)
	m.AddConstraint("r", row(x, 1.0, y, -1.0), mip.LE, 1)

	_, _, err := bounded(t, m)
	assert.ErrorIs(t, err, errLPUnbounded)
}

func TestSolveBounded_NoRows(t *testing.T) {
	m := mip.NewModel("bounds")
	x := m.NewVar("x", mip.Continuous, -2, 3)
	y := m.NewVar("y", mip.Continuous, -1, 1)
	m.AddObjective(x, -1)
	m.AddObjective(y, 2)

	obj, vals, err := bounded(t, m)
	require.NoError(t, err)
	assert.InDelta(t, -5, obj, 1e-12)
	assert.Equal(t, 3.0, vals[x])
	assert.Equal(t, -1.0, vals[y])

	z := m.NewVar("z", mip.Continuous, math.Inf(-1), 0)
	m.AddObjective(z, 1)
	_, _, err = bounded(t, m)
	assert.ErrorIs(t, err, errLPUnbounded)
}
