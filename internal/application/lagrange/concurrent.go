package lagrange

// concurrent.go: worker pool para resolver los subproblemas de cada carga.
//
// Los subproblemas de una iteración no comparten estado; el paralelismo real
// lo acota el SolverPool.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// solveConcurrent ejecuta solve para cada carga 0..n-1 con un pool de workers.
// Cada resultado se escribe en la posición de su carga, así que el orden de
// agregación no depende del scheduling. El primer fallo cancela el resto.
//
// Si workers <= 0 usa runtime.NumCPU().
func solveConcurrent[T any](
	ctx context.Context,
	n int,
	workers int,
	solve func(ctx context.Context, e int) (T, error),
) ([]T, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = max(1, min(workers, n))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workCh := make(chan int, n)
	out := make([]T, n)
	errs := make([]error, n)

	// Worker pool: cada worker toma cargas de workCh y escribe en su hueco.
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range workCh {
				if err := ctx.Err(); err != nil {
					errs[e] = err
					continue
				}
				r, err := solve(ctx, e)
				if err != nil {
					errs[e] = err
					cancel()
					continue
				}
				out[e] = r
			}
		}()
	}

	for e := 0; e < n; e++ {
		workCh <- e
	}
	close(workCh)
	wg.Wait()

	// El error real tiene prioridad sobre las cancelaciones que provocó.
	for e, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("load %d: %w", e, err)
		}
	}
	for e, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("load %d: %w", e, err)
		}
	}

	slog.Debug("lagrange: subproblems complete", "loads", n, "workers", workers)
	return out, nil
}
