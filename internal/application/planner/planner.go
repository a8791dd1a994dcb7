// Package planner orquesta una ejecución completa: validación, reducción de
// escenarios, estrategia de optimización, comprobación, baseline, persistencia
// y reporte.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/flexbid/internal/application/baseline"
	"github.com/alejandrodnm/flexbid/internal/application/lagrange"
	"github.com/alejandrodnm/flexbid/internal/application/program"
	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/ports"
	"github.com/alejandrodnm/flexbid/internal/scenario"
)

// Strategy selecciona cómo se resuelve el problema.
type Strategy string

const (
	StrategyStochastic    Strategy = "stochastic"
	StrategyDeterministic Strategy = "deterministic"
	StrategyLagrangian    Strategy = "lagrangian"
	StrategyDirect        Strategy = "direct"
)

// shortageWarn es la falta de energía a partir de la cual se avisa.
const shortageWarn = 1e-6

// Config contiene la configuración del planner.
type Config struct {
	Strategy Strategy
	Program  program.Options
	Lagrange lagrange.Options

	// Scenarios es el número objetivo tras la reducción; 0 = todos.
	Scenarios int
	Reducer   scenario.Reducer

	// DesiredAcceptance es la probabilidad de aceptación χ de la variante
	// determinista, la misma para ambos lados.
	DesiredAcceptance float64

	// Check ejecuta el comprobador numérico tras resolver.
	Check bool
}

// Planner es el orquestador de una petición. La caché de reducciones vive lo
// que vive el Planner.
type Planner struct {
	cfg      Config
	pool     *SolverPool
	store    ports.ResultStore
	reporter ports.Reporter
	metrics  ports.Metrics
	cache    *scenario.SelectionCache
}

// New crea un Planner con todas las dependencias inyectadas. store, reporter
// y metrics pueden ser nil.
func New(
	cfg Config,
	pool *SolverPool,
	store ports.ResultStore,
	reporter ports.Reporter,
	metrics ports.Metrics,
) *Planner {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyStochastic
	}
	return &Planner{
		cfg:      cfg,
		pool:     pool,
		store:    store,
		reporter: reporter,
		metrics:  metrics,
		cache:    scenario.NewSelectionCache(),
	}
}

// Cache expone la caché de reducciones del planner.
func (pl *Planner) Cache() *scenario.SelectionCache { return pl.cache }

// outcome es lo que devuelve cada estrategia.
type outcome struct {
	decisions  *domain.DecisionVariables
	objective  float64
	status     string
	nodes      int
	iterations []domain.Iteration
	check      func(*domain.DecisionVariables) error
}

// Plan resuelve p con la estrategia configurada y devuelve el resultado
// persistido y reportado.
func (pl *Planner) Plan(ctx context.Context, p domain.Problem) (domain.Result, error) {
	runID := uuid.NewString()
	start := time.Now()
	log := slog.With("run_id", runID, "strategy", pl.cfg.Strategy)

	if p.NScenarios() == 0 {
		p = p.WithScenarios(domain.ScenarioSet{{Probability: 1}})
	}
	if err := pl.validate(p); err != nil {
		log.Error("plan rejected", "err", err)
		return domain.Result{}, err
	}

	solvers := pl.pool.Bind(ctx)
	p, err := pl.reduce(ctx, p, solvers)
	if err != nil {
		log.Error("scenario reduction failed", "err", err)
		return domain.Result{}, err
	}

	out, err := pl.run(ctx, p, solvers)
	pl.metrics.ObserveSolve(string(pl.cfg.Strategy), statusOf(out, err), time.Since(start))
	if err != nil {
		log.Error("plan failed", "err", err)
		return domain.Result{}, fmt.Errorf("planner.Plan: %s: %w", pl.cfg.Strategy, err)
	}
	pl.metrics.ObserveNodes(out.nodes)

	if pl.cfg.Check && out.check != nil {
		if err := out.check(out.decisions); err != nil {
			log.Error("result check failed", "err", err)
			return domain.Result{}, fmt.Errorf("planner.Plan: check: %w", err)
		}
	}

	base, err := baseline.Direct(p, pl.cfg.Program)
	if err != nil {
		return domain.Result{}, fmt.Errorf("planner.Plan: baseline: %w", err)
	}

	res := domain.Result{
		RunID:        runID,
		Strategy:     string(pl.cfg.Strategy),
		StartedAt:    start.UTC(),
		Duration:     time.Since(start),
		StartT:       p.StartT,
		NTimeSteps:   p.NTimeSteps,
		LoadIDs:      loadIDs(p),
		NScenarios:   p.NScenarios(),
		Objective:    out.objective,
		BaselineCost: base.Cost,
		Decisions:    out.decisions,
		Iterations:   out.iterations,
	}

	if short := res.TotalShortage(); short > shortageWarn {
		log.Warn("departure requirements not met", "shortage_mwh", fmt.Sprintf("%.4f", short))
	}
	for e, over := range out.decisions.Overflow {
		if over > shortageWarn {
			log.Warn("state of charge outside battery limits", "load", p.Loads[e].ID, "overflow_mwh", fmt.Sprintf("%.4f", over))
		}
	}

	if pl.store != nil {
		if err := pl.store.SaveResult(ctx, res); err != nil {
			log.Error("storage error", "err", err)
			return res, fmt.Errorf("planner.Plan: save: %w", err)
		}
	}
	if pl.reporter != nil {
		if err := pl.reporter.Report(ctx, res); err != nil {
			log.Warn("reporter error", "err", err)
		}
	}

	log.Info("plan complete",
		"objective", fmt.Sprintf("%.2f", res.Objective),
		"baseline", fmt.Sprintf("%.2f", res.BaselineCost),
		"savings", fmt.Sprintf("%.2f", res.Savings()),
		"scenarios", res.NScenarios,
		"iterations", len(res.Iterations),
		"duration", res.Duration.Round(time.Millisecond),
	)
	return res, nil
}

func (pl *Planner) validate(p domain.Problem) error {
	switch pl.cfg.Strategy {
	case StrategyStochastic, StrategyDeterministic, StrategyLagrangian, StrategyDirect:
	default:
		return fmt.Errorf("planner.validate: strategy %q: %w", pl.cfg.Strategy, domain.ErrInvalidConfiguration)
	}
	o := pl.cfg.Program
	if err := o.Validate(); err != nil {
		return fmt.Errorf("planner.validate: %w", err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("planner.validate: %w", err)
	}
	to := p.StartT + p.NTimeSteps
	if err := p.Market.Scenarios.Validate(to, o.Imbalance, o.Reserves, o.Reserves && o.CapacityPayment); err != nil {
		return fmt.Errorf("planner.validate: %w", err)
	}
	if pl.cfg.Scenarios < 0 {
		return fmt.Errorf("planner.validate: scenario target %d: %w", pl.cfg.Scenarios, domain.ErrInvalidConfiguration)
	}
	if pl.cfg.Strategy == StrategyDeterministic && (pl.cfg.DesiredAcceptance <= 0 || pl.cfg.DesiredAcceptance > 1) {
		return fmt.Errorf("planner.validate: desired acceptance %.3f outside (0,1]: %w",
			pl.cfg.DesiredAcceptance, domain.ErrInvalidConfiguration)
	}
	return nil
}

// reduce aplica la reducción de escenarios a través de la caché.
func (pl *Planner) reduce(ctx context.Context, p domain.Problem, solvers ports.SolverFactory) (domain.Problem, error) {
	n, target := p.NScenarios(), pl.cfg.Scenarios
	if target == 0 || target >= n {
		return p, nil
	}
	r := pl.cfg.Reducer
	r.Solvers = solvers
	sel, hit, err := pl.cache.GetOrCompute(n, target, func() (scenario.Selection, error) {
		return r.Reduce(ctx, p, target)
	})
	if err != nil {
		return p, fmt.Errorf("planner.reduce: %w", err)
	}
	slog.Debug("planner: scenarios reduced", "from", n, "to", len(sel.Indices), "method", r.Method, "cache_hit", hit)
	return p.WithScenarios(sel.Apply(p.Market.Scenarios)), nil
}

func (pl *Planner) run(ctx context.Context, p domain.Problem, solvers ports.SolverFactory) (*outcome, error) {
	o := pl.cfg.Program
	switch pl.cfg.Strategy {
	case StrategyDirect:
		d, err := baseline.Direct(p, o)
		if err != nil {
			return nil, err
		}
		direct := o
		direct.Reserves, direct.V2G = false, false
		return &outcome{
			decisions: d,
			objective: d.Cost,
			status:    "direct",
			check: func(d *domain.DecisionVariables) error {
				return program.Check(p, direct, nil, d)
			},
		}, nil

	case StrategyLagrangian:
		res, err := lagrange.New(o, pl.cfg.Lagrange, solvers, pl.metrics).Run(ctx, p)
		if err != nil {
			return nil, err
		}
		return &outcome{
			decisions:  res.Solution.Decisions,
			objective:  res.Solution.Objective,
			status:     res.Solution.Status.String(),
			nodes:      res.Solution.Nodes,
			iterations: res.Iterations,
			check:      res.Program.Check,
		}, nil
	}

	var pr *program.Program
	if pl.cfg.Strategy == StrategyDeterministic {
		chi := pl.cfg.DesiredAcceptance
		pr = program.NewDeterministic(p, o, chi, chi)
	} else {
		pr = program.New(p, o, nil)
	}
	sol, err := pr.Solve(ctx, solvers)
	if err != nil {
		return nil, err
	}
	return &outcome{
		decisions: sol.Decisions,
		objective: sol.Objective,
		status:    sol.Status.String(),
		nodes:     sol.Nodes,
		check:     pr.Check,
	}, nil
}

func loadIDs(p domain.Problem) []string {
	ids := make([]string, len(p.Loads))
	for e, l := range p.Loads {
		ids[e] = l.ID
	}
	return ids
}

func statusOf(out *outcome, err error) string {
	if err != nil {
		return "error"
	}
	return out.status
}
