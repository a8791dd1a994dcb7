package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/mip"
	"github.com/alejandrodnm/flexbid/internal/ports"
	"github.com/alejandrodnm/flexbid/internal/scenario"
)

// acceptedThreshold separa aceptado de rechazado al leer la aceptación.
const acceptedThreshold = 0.8

// strategy añade un bloque de variables, restricciones u objetivo al modelo.
type strategy interface {
	apply(pr *Program)
}

// Program es el programa estocástico de un problema. Se construye con New,
// se ajusta opcionalmente (multiplicadores, tramos fijos) y se resuelve una vez.
type Program struct {
	p    domain.Problem
	opts Options
	ord  *scenario.Ordering

	// bids son las ofertas fijadas por la variante determinista, por periodo absoluto.
	bids [2][]float64
	// multipliers[side][t][k]: términos lagrangianos de un subproblema de una carga.
	multipliers [2][][]float64
	// fixedClusters[side][t][k]: cota superior de las fronteras que fija el maestro.
	fixedClusters [2][][]float64
	// shared: cotas de mercado de la flota cuando el programa es una parte de ella.
	shared *MarketBounds

	m *mip.Model
	v variables
}

// New prepara el programa de p. Si ord es nil se crea uno sobre los
// escenarios de p. Un problema sin escenarios se resuelve con un único
// escenario vacío de probabilidad 1.
func New(p domain.Problem, opts Options, ord *scenario.Ordering) *Program {
	if p.NScenarios() == 0 {
		p = p.WithScenarios(domain.ScenarioSet{{Probability: 1}})
		ord = nil
	}
	if ord == nil {
		ord = scenario.NewOrdering(p.Market.Scenarios, opts.CapacityPayment)
	}
	if opts.ReserveModel == "" {
		opts.ReserveModel = ReserveCompact
	}
	if opts.ClusterMethod == "" {
		opts.ClusterMethod = ClusterNone
	}
	return &Program{p: p, opts: opts, ord: ord}
}

// NewDeterministic colapsa los escenarios de p en uno esperado para las
// probabilidades de aceptación chiDown y chiUp y oferta sólo cantidad, con
// las ofertas de precio fijadas al cuantil correspondiente.
func NewDeterministic(p domain.Problem, opts Options, chiDown, chiUp float64) *Program {
	c := scenario.Collapse(p.Market.Scenarios, opts.CapacityPayment, chiDown, chiUp, p.StartT, p.StartT+p.NTimeSteps)
	opts.Deterministic = true
	opts.QuantityOnly = true
	pr := New(p.WithScenarios(c.Set), opts, nil)
	pr.bids = [2][]float64{c.BidDown, c.BidUp}
	return pr
}

// Problem devuelve el problema que resuelve el programa, con los escenarios
// efectivos (colapsados en la variante determinista).
func (pr *Program) Problem() domain.Problem { return pr.p }

// Options devuelve las opciones del programa.
func (pr *Program) Options() Options { return pr.opts }

// Ordering devuelve el orden de escenarios que usa el programa.
func (pr *Program) Ordering() *scenario.Ordering { return pr.ord }

// SetMultipliers añade al objetivo los términos lagrangianos del lado, indexados
// [periodo][posición en el orden de aceptación]. Sólo tiene sentido con una carga.
func (pr *Program) SetMultipliers(side domain.Side, lambda [][]float64) {
	pr.multipliers[side] = lambda
}

// FixClusters acota las fronteras del lado por el patrón dado, indexado
// [periodo][posición en el orden de aceptación].
func (pr *Program) FixClusters(side domain.Side, f [][]float64) {
	pr.fixedClusters[side] = f
}

// ShareMarket marca el programa como la parte de una flota con cotas de
// mercado b. Sus posiciones day-ahead y de desvío son entonces cuotas de las
// de la flota: se acotan con b y no llevan separación de signo propia, de
// modo que cualquier solución de la flota se reparte entre sus partes.
func (pr *Program) ShareMarket(b MarketBounds) {
	pr.shared = &b
}

func (pr *Program) strategies() []strategy {
	o := pr.opts
	s := []strategy{allocate{}, chargeFeasibility{}}
	if o.Reserves {
		if o.ReserveModel == ReserveNaive {
			s = append(s, naiveReserves{})
		} else {
			s = append(s, compactReserves{})
		}
		if !o.QuantityOnly {
			s = append(s, bidLogic{}, boundaries{})
			if o.ClusterMethod == ClusterPerLoad {
				s = append(s, perLoadGroups{})
			}
			if pr.p.Market.MinBid > 0 {
				s = append(s, minBid{})
			}
		}
		if o.FixedPTUs > 0 && pr.p.Previous != nil {
			s = append(s, fixedPeriods{})
		}
	}
	s = append(s, marketBalance{})
	if o.Grid && pr.p.Grid.NLines() > 0 {
		s = append(s, gridCaps{})
	}
	s = append(s, objective{})
	if len(pr.p.Loads) == 1 && (pr.multipliers[domain.Down] != nil || pr.multipliers[domain.Up] != nil) {
		s = append(s, multiplierTerms{})
	}
	return s
}

// Build valida el problema y ensambla el MIP.
func (pr *Program) Build() (*mip.Model, error) {
	if err := pr.validate(); err != nil {
		return nil, err
	}
	pr.m = mip.NewModel("flexbid")
	pr.v = variables{}
	for _, s := range pr.strategies() {
		s.apply(pr)
	}
	if err := pr.m.Err(); err != nil {
		return nil, fmt.Errorf("program.Build: %v: %w", err, domain.ErrInvalidModel)
	}
	return pr.m, nil
}

func (pr *Program) validate() error {
	p, o := pr.p, pr.opts
	if err := o.Validate(); err != nil {
		return fmt.Errorf("program.Build: %w", err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("program.Build: %w", err)
	}
	to := p.StartT + p.NTimeSteps
	if err := p.Market.Scenarios.Validate(to, o.Imbalance, o.Reserves, o.Reserves && o.CapacityPayment); err != nil {
		return fmt.Errorf("program.Build: %w", err)
	}
	if o.DayAhead && p.Market.NHours(0, to) > len(p.Market.DayAhead) {
		return fmt.Errorf("program.Build: day-ahead prices cover %d hours, need %d: %w",
			len(p.Market.DayAhead), p.Market.NHours(0, to), domain.ErrInvalidConfiguration)
	}
	if o.DayAhead && o.DayAheadFixed && (p.Previous == nil || len(p.Previous.DayAhead) < p.NHours()) {
		return fmt.Errorf("program.Build: fixed day-ahead position without previous decisions: %w", domain.ErrInvalidConfiguration)
	}
	return nil
}

// Solution es el resultado de resolver el programa.
type Solution struct {
	Decisions *domain.DecisionVariables
	Objective float64
	Status    ports.Status
	Nodes     int
}

// Solve construye el modelo, lo resuelve con un handle de solvers y lee la
// solución. El handle se libera siempre antes de volver.
func (pr *Program) Solve(ctx context.Context, solvers ports.SolverFactory) (*Solution, error) {
	m, err := pr.Build()
	if err != nil {
		return nil, err
	}
	s, err := solvers.NewSolver()
	if err != nil {
		return nil, solverFailure("new solver", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("program: closing solver", "err", err)
		}
	}()

	if pr.opts.TimeLimit > 0 {
		s.SetTimeLimit(pr.opts.TimeLimit)
	}
	s.SetMIPGap(pr.opts.MIPGap)
	if err := s.Build(m); err != nil {
		return nil, solverFailure("build", err)
	}
	if pr.opts.SavePath != "" {
		if err := s.Save(pr.opts.SavePath); err != nil {
			slog.Warn("program: saving model", "path", pr.opts.SavePath, "err", err)
		}
	}

	status, err := s.Solve(ctx)
	if err != nil {
		return nil, solverFailure("solve", err)
	}
	slog.Debug("program: solved",
		"status", status, "objective", s.Objective(), "nodes", s.Nodes(),
		"vars", m.NumVars(), "integers", m.NumIntegers(), "rows", len(m.Constraints()))

	switch status {
	case ports.StatusInfeasible:
		return nil, fmt.Errorf("program.Solve: %w", domain.ErrInfeasible)
	case ports.StatusUnbounded:
		return nil, fmt.Errorf("program.Solve: %w", domain.ErrUnbounded)
	case ports.StatusNoSolution:
		if ctx.Err() != nil {
			return nil, fmt.Errorf("program.Solve: %w", ctx.Err())
		}
		return nil, fmt.Errorf("program.Solve: no integer solution within limits: %w", domain.ErrSolverFailure)
	}

	return &Solution{
		Decisions: pr.readback(s),
		Objective: s.Objective(),
		Status:    status,
		Nodes:     s.Nodes(),
	}, nil
}

func solverFailure(step string, err error) error {
	if errors.Is(err, domain.ErrSolverFailure) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("program.Solve: %s: %w", step, err)
	}
	return fmt.Errorf("program.Solve: %s: %v: %w", step, err, domain.ErrSolverFailure)
}

// readback vuelca los valores del solver en DecisionVariables.
func (pr *Program) readback(s ports.Solver) *domain.DecisionVariables {
	p, o := pr.p, pr.opts
	nT, nS := p.NTimeSteps, p.NScenarios()
	set := p.Market.Scenarios
	d := domain.NewDecisionVariables(len(p.Loads), nT, p.NHours())
	if o.Reserves {
		d.WithAcceptance(nS)
	}
	// reserves[side][e][t][i] es la reserva total por escenario.
	var reserves [2][][][]float64

	for e := range p.Loads {
		lv := &pr.v.loads[e]
		for t := 0; t < nT; t++ {
			d.Charge[e][t] = nonneg(s.Value(lv.pc[t]))
			d.Discharge[e][t] = nonneg(s.Value(lv.pd[t]))
			for i, sc := range set {
				d.SOC[e][t] += sc.Probability * s.Value(lv.soc[t][i])
			}
		}
		for i, sc := range set {
			d.Shortage[e] += sc.Probability * nonneg(s.Value(lv.short[i]))
			d.Overflow[e] += sc.Probability * nonneg(s.Value(lv.over[i]))
		}
	}

	if o.Reserves {
		for _, side := range domain.Sides {
			reserves[side] = make([][][]float64, len(p.Loads))
			rc, rd := d.ReserveChargeDown, d.ReserveDischargeDown
			if side == domain.Up {
				rc, rd = d.ReserveChargeUp, d.ReserveDischargeUp
			}
			acc := d.Acceptance(side)
			for e := range p.Loads {
				lv := &pr.v.loads[e]
				reserves[side][e] = make([][]float64, nT)
				for t := 0; t < nT; t++ {
					reserves[side][e][t] = make([]float64, nS)
					for i := 0; i < nS; i++ {
						c := nonneg(s.Value(lv.rc[side][t][i]))
						dc := nonneg(s.Value(lv.discharge(side, t, i)))
						rc[e][t] = math.Max(rc[e][t], c)
						rd[e][t] = math.Max(rd[e][t], dc)
						reserves[side][e][t][i] = c + dc
						if s.Value(lv.v[side][t][i]) > acceptedThreshold {
							acc[e][t][i] = 1
						}
					}
				}
			}
		}
	}

	for h, v := range pr.v.pda {
		d.DayAhead[h] = s.Value(v)
	}
	for t, v := range pr.v.pimb {
		d.Imbalance[t] = s.Value(v)
	}
	d.Cost = s.Objective()

	if o.Reserves {
		pr.deriveBids(d)
		if !o.QuantityOnly {
			d.Clusters = extractClusters(pr.ord, p, d, reserves)
		}
	}
	return d
}

func nonneg(x float64) float64 {
	if x < 1e-9 || math.IsNaN(x) {
		return 0
	}
	return x
}
