package lagrange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flexbid/internal/domain"
)

func TestTopK_StableOnTies(t *testing.T) {
	assert.Equal(t, []int{1, 3}, topK([]float64{0, 5, 1, 5}, 2))
	assert.Equal(t, []int{0, 1}, topK([]float64{0, 0, 0}, 2))
	assert.Len(t, topK([]float64{1}, 3), 1)
}

func TestMaster_OpensHighestMultipliers(t *testing.T) {
	active := [2]bool{true, false}
	lm := newMultipliers(active, 2, 2, 3)
	lm[domain.Down][0][0] = []float64{1, 0, 2}
	lm[domain.Down][1][0] = []float64{0, 4, 0}
	lm[domain.Down][0][1] = []float64{1, 1, 1}

	fixed := func(t int) bool { return t == 1 }
	f, penalty := master(lm, [2]int{1, 0}, fixed, 2, 3)

	require.Nil(t, f[domain.Up])
	assert.Equal(t, []float64{0, 1, 0}, f[domain.Down][0])
	// un periodo fijado abre todas las posiciones
	assert.Equal(t, []float64{1, 1, 1}, f[domain.Down][1])
	assert.InDelta(t, -(4.0 + 3.0), penalty, 1e-12)
}

func TestUpdate_ProjectsAndCapsStep(t *testing.T) {
	lm := newMultipliers([2]bool{true, false}, 1, 1, 2)
	lm[domain.Down][0][0] = []float64{0.5, 0}
	var g multipliers
	g[domain.Down] = [][][]float64{{{-1, 1}}}

	o := Options{MaxStep: 2}
	step, dir := update(lm, g, multipliers{}, o, 1, 100, 0)
	assert.Equal(t, 2.0, step)
	assert.Equal(t, []float64{0, 2}, lm[domain.Down][0][0])

	// momento sobre la dirección anterior
	o.Momentum = 0.5
	g[domain.Down] = [][][]float64{{{0, 0}}}
	step, next := update(lm, g, dir, o, 1, 1, 0)
	assert.InDelta(t, 1.0/(0.25+0.25), step, 1e-12)
	assert.Equal(t, []float64{-0.5, 0.5}, next[domain.Down][0][0])
}

func TestUpdate_ZeroSubgradient(t *testing.T) {
	lm := newMultipliers([2]bool{true, true}, 1, 1, 1)
	var g multipliers
	g[domain.Down] = [][][]float64{{{0}}}
	g[domain.Up] = [][][]float64{{{0}}}
	step, _ := update(lm, g, multipliers{}, DefaultOptions(), 1, 10, 0)
	assert.Zero(t, step)
}

func TestDrop(t *testing.T) {
	a := []int{2, 0, 1}
	acc := []float64{1, 0, 1}
	assert.Equal(t, 0.0, drop(acc, a, 0))
	assert.Equal(t, 1.0, drop(acc, a, 1))
	assert.Equal(t, 0.0, drop(acc, a, 2))
}

func TestSolveConcurrent_KeepsLoadOrder(t *testing.T) {
	out, err := solveConcurrent(context.Background(), 20, 4, func(_ context.Context, e int) (int, error) {
		return e * e, nil
	})
	require.NoError(t, err)
	for e, v := range out {
		assert.Equal(t, e*e, v)
	}
}

func TestSolveConcurrent_ReportsRealError(t *testing.T) {
	boom := errors.New("boom")
	_, err := solveConcurrent(context.Background(), 8, 1, func(ctx context.Context, e int) (int, error) {
		if e == 3 {
			return 0, boom
		}
		return e, ctx.Err()
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "load 3")
}
