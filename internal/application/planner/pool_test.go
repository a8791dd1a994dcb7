package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flexbid/internal/adapters/solver"
	"github.com/alejandrodnm/flexbid/internal/ports"
)

func TestSolverPool_BlocksWhenExhausted(t *testing.T) {
	pool := NewSolverPool(solver.Factory{}, 1, 0)
	assert.Equal(t, 1, pool.Size())

	first, err := pool.Bind(context.Background()).NewSolver()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Bind(ctx).NewSolver()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Close())
	// un segundo Close no libera otro hueco
	_ = first.Close()

	second, err := pool.Bind(context.Background()).NewSolver()
	require.NoError(t, err)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = pool.Bind(ctx2).NewSolver()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, second.Close())
}

type failingFactory struct{}

func (failingFactory) NewSolver() (ports.Solver, error) { return nil, errors.New("no licence") }

func TestSolverPool_ReleasesOnFactoryError(t *testing.T) {
	pool := NewSolverPool(failingFactory{}, 1, 0)
	for i := 0; i < 3; i++ {
		_, err := pool.Bind(context.Background()).NewSolver()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no licence")
	}
}

func TestSolverPool_RateLimited(t *testing.T) {
	pool := NewSolverPool(solver.Factory{}, 1, 1)
	s, err := pool.Bind(context.Background()).NewSolver()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// el bucket de tamaño 1 ya se gastó; la siguiente espera ~1s
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Bind(ctx).NewSolver()
	assert.Error(t, err)
}
