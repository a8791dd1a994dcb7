// Package lagrange resuelve el programa con límite de tramos por periodo
// relajando el acoplamiento entre cargas: un subproblema por carga, un maestro
// de fronteras cerrado y una actualización de multiplicadores por subgradiente.
package lagrange

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/flexbid/internal/application/program"
	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/ports"
	"github.com/alejandrodnm/flexbid/internal/scenario"
)

// Options controla el bucle de subgradiente.
type Options struct {
	MaxIterations int
	// GapThreshold: se para cuando (upper-lower)/|upper| cae por debajo.
	GapThreshold float64
	StepFactor   float64
	// Momentum pondera la dirección anterior en la actual.
	Momentum float64
	MaxStep  float64
	// Patience: iteraciones sin mejora antes de dividir StepFactor por Decay.
	Patience int
	Decay    float64
	// StallLimit: iteraciones sin mejora antes de abandonar.
	StallLimit int
	Workers    int
}

// DefaultOptions devuelve los parámetros por defecto.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 50,
		GapThreshold:  0.01,
		StepFactor:    2,
		Momentum:      0.3,
		MaxStep:       1000,
		Patience:      3,
		Decay:         2,
		StallLimit:    15,
	}
}

// Result es la mejor solución encontrada y la serie de cotas.
type Result struct {
	Solution   *program.Solution
	Program    *program.Program
	Iterations []domain.Iteration
}

// Decomposition ejecuta la relajación lagrangiana sobre un pool de solvers.
type Decomposition struct {
	prog    program.Options
	opts    Options
	solvers ports.SolverFactory
	metrics ports.Metrics
}

// New crea una descomposición. metrics puede ser nil.
func New(prog program.Options, opts Options, solvers ports.SolverFactory, metrics ports.Metrics) *Decomposition {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 1
	}
	if opts.Decay <= 1 {
		opts.Decay = 2
	}
	prog.ClusterMethod = program.ClusterPerPeriod
	return &Decomposition{prog: prog, opts: opts, solvers: solvers, metrics: metrics}
}

// subResult es lo que el maestro necesita de cada subproblema.
type subResult struct {
	objective float64
	// accept[side][t][i] es la aceptación de la carga.
	accept [2][][]float64
}

// Run resuelve p. Con una sola carga o sin límite de tramos activo no hay
// acoplamiento que relajar y se resuelve el programa completo directamente.
// Cualquier fallo de un subproblema aborta la ejecución.
func (d *Decomposition) Run(ctx context.Context, p domain.Problem) (*Result, error) {
	if p.NScenarios() == 0 {
		p = p.WithScenarios(domain.ScenarioSet{{Probability: 1}})
	}
	ord := scenario.NewOrdering(p.Market.Scenarios, d.prog.CapacityPayment)

	var active [2]bool
	var caps [2]int
	for _, side := range domain.Sides {
		caps[side] = d.prog.Clusters(side)
		active[side] = d.prog.Reserves && !d.prog.QuantityOnly && caps[side] > 0
	}
	if len(p.Loads) <= 1 || (!active[domain.Down] && !active[domain.Up]) {
		return d.direct(ctx, p, ord)
	}

	nT, nS := p.NTimeSteps, p.NScenarios()
	market := program.New(p, d.prog, ord).MarketBounds()
	fixed := func(t int) bool { return p.Previous != nil && t < d.prog.FixedPTUs }
	lm := newMultipliers(active, len(p.Loads), nT, nS)

	var (
		res       = &Result{}
		best      = math.Inf(1)
		factor    = d.opts.StepFactor
		prevDir   multipliers
		stall     int
		sinceBest int
		bestLower = math.Inf(-1)
	)
	for it := 1; it <= d.opts.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("lagrange.Run: iteration %d: %w", it, err)
		}

		subs, err := solveConcurrent(ctx, len(p.Loads), d.opts.Workers, func(ctx context.Context, e int) (subResult, error) {
			return d.subproblem(ctx, p, ord, lm, market, e)
		})
		if err != nil {
			return nil, fmt.Errorf("lagrange.Run: iteration %d: subproblem: %w", it, err)
		}

		f, lower := master(lm, caps, fixed, nT, nS)
		for _, s := range subs {
			lower += s.objective
		}

		pr := program.New(p, d.prog, ord)
		for _, side := range domain.Sides {
			if active[side] {
				pr.FixClusters(side, f[side])
			}
		}
		start := time.Now()
		sol, err := pr.Solve(ctx, d.solvers)
		d.metrics.ObserveSolve("lagrange_upper", statusOf(sol, err), time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("lagrange.Run: iteration %d: upper bound: %w", it, err)
		}
		d.metrics.ObserveNodes(sol.Nodes)

		improved := false
		if it == 1 || sol.Objective < best {
			best = sol.Objective
			res.Solution, res.Program = sol, pr
			improved = true
		}
		if lower > bestLower {
			bestLower = lower
			improved = true
		}

		g := subgradient(lm, subs, f, ord, p)
		step, dir := update(lm, g, prevDir, d.opts, factor, best, lower)
		prevDir = dir

		gap := relativeGap(best, lower)
		res.Iterations = append(res.Iterations, domain.Iteration{
			N: it, Upper: best, Lower: lower, Gap: gap, Step: step, StepFactor: factor,
		})
		d.metrics.ObserveIteration(best, lower, gap)
		slog.Info("lagrange: iteration",
			"n", it, "upper", best, "lower", lower, "gap", gap, "step", step, "factor", factor)

		if gap <= d.opts.GapThreshold {
			break
		}
		if improved {
			stall, sinceBest = 0, 0
		} else {
			stall++
			sinceBest++
		}
		if d.opts.StallLimit > 0 && stall >= d.opts.StallLimit {
			slog.Info("lagrange: stalled", "iterations", it)
			break
		}
		if d.opts.Patience > 0 && sinceBest >= d.opts.Patience {
			factor /= d.opts.Decay
			sinceBest = 0
		}
	}
	return res, nil
}

// direct resuelve el programa completo sin descomponer.
func (d *Decomposition) direct(ctx context.Context, p domain.Problem, ord *scenario.Ordering) (*Result, error) {
	pr := program.New(p, d.prog, ord)
	start := time.Now()
	sol, err := pr.Solve(ctx, d.solvers)
	d.metrics.ObserveSolve("lagrange_direct", statusOf(sol, err), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("lagrange.Run: %w", err)
	}
	d.metrics.ObserveNodes(sol.Nodes)
	return &Result{
		Solution: sol,
		Program:  pr,
		Iterations: []domain.Iteration{{
			N: 1, Upper: sol.Objective, Lower: sol.Objective, StepFactor: d.opts.StepFactor,
		}},
	}, nil
}

// subproblem resuelve la carga e sola, con los multiplicadores en el objetivo.
// El acoplamiento entre cargas (red, day-ahead fijado, oferta mínima,
// separación de signo de las posiciones de mercado) queda fuera del
// subproblema, cuyas posiciones se acotan con las de la flota: la suma de
// subproblemas sigue siendo una relajación del programa completo.
func (d *Decomposition) subproblem(ctx context.Context, p domain.Problem, ord *scenario.Ordering, lm multipliers, market program.MarketBounds, e int) (subResult, error) {
	sp := p
	sp.Loads = p.Loads[e : e+1]
	sp.Grid = domain.Grid{}
	sp.Market.MinBid = 0
	if p.Previous != nil {
		sp.Previous = p.Previous.ForLoad(e)
	}
	o := d.prog
	o.ClusterMethod = program.ClusterNone
	o.DayAheadFixed = false
	o.Grid = false

	pr := program.New(sp, o, ord)
	pr.ShareMarket(market)
	for _, side := range domain.Sides {
		if lm[side] != nil {
			pr.SetMultipliers(side, lm[side][e])
		}
	}
	start := time.Now()
	sol, err := pr.Solve(ctx, d.solvers)
	d.metrics.ObserveSolve("lagrange_sub", statusOf(sol, err), time.Since(start))
	if err != nil {
		return subResult{}, err
	}
	d.metrics.ObserveNodes(sol.Nodes)

	out := subResult{objective: sol.Objective}
	for _, side := range domain.Sides {
		if acc := sol.Decisions.Acceptance(side); acc != nil {
			out.accept[side] = acc[0]
		}
	}
	return out, nil
}

func relativeGap(upper, lower float64) float64 {
	diff := math.Max(0, upper-lower)
	if math.Abs(upper) < 1e-9 {
		return diff
	}
	return diff / math.Abs(upper)
}

func statusOf(sol *program.Solution, err error) string {
	if err != nil {
		return "error"
	}
	return sol.Status.String()
}
