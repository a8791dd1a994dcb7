package planner

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/flexbid/internal/ports"
)

// SolverPool limita los handles de solver vivos y el ritmo al que se piden,
// como haría un servidor de licencias.
type SolverPool struct {
	factory ports.SolverFactory
	slots   chan struct{}
	limiter *rate.Limiter
}

// NewSolverPool crea un pool de size handles. acquireRate son adquisiciones
// por segundo; <= 0 no limita.
func NewSolverPool(factory ports.SolverFactory, size int, acquireRate float64) *SolverPool {
	size = max(1, size)
	limit := rate.Inf
	if acquireRate > 0 {
		limit = rate.Limit(acquireRate)
	}
	return &SolverPool{
		factory: factory,
		slots:   make(chan struct{}, size),
		limiter: rate.NewLimiter(limit, size),
	}
}

// Size devuelve el número máximo de handles simultáneos.
func (p *SolverPool) Size() int { return cap(p.slots) }

// Acquire espera un hueco libre respetando el rate limit.
func (p *SolverPool) Acquire(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("planner.Acquire: rate limit: %w", err)
	}
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("planner.Acquire: %w", ctx.Err())
	}
}

// Release devuelve un hueco al pool.
func (p *SolverPool) Release() {
	select {
	case <-p.slots:
	default:
	}
}

// Bind devuelve una factoría cuyos handles se adquieren con ctx y liberan
// el hueco al cerrarse.
func (p *SolverPool) Bind(ctx context.Context) ports.SolverFactory {
	return boundPool{pool: p, ctx: ctx}
}

type boundPool struct {
	pool *SolverPool
	ctx  context.Context
}

func (b boundPool) NewSolver() (ports.Solver, error) {
	if err := b.pool.Acquire(b.ctx); err != nil {
		return nil, err
	}
	s, err := b.pool.factory.NewSolver()
	if err != nil {
		b.pool.Release()
		return nil, fmt.Errorf("planner.NewSolver: %w", err)
	}
	return &pooledSolver{Solver: s, release: sync.OnceFunc(b.pool.Release)}, nil
}

// pooledSolver libera su hueco una sola vez, aunque Close se llame de nuevo.
type pooledSolver struct {
	ports.Solver
	release func()
}

func (s *pooledSolver) Close() error {
	defer s.release()
	return s.Solver.Close()
}
