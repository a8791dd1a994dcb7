package program

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flexbid/internal/adapters/solver"
	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/ports"
	"github.com/alejandrodnm/flexbid/internal/scenario"
)

// twoPriceProblem: una carga de 4 periodos que necesita 10 MWh, dos escenarios
// equiprobables con precio a bajar 10 y 0 en el periodo 0.
func twoPriceProblem() domain.Problem {
	set := domain.ScenarioSet{
		{
			Down: []float64{10, 5, 5, 5}, Up: []float64{0, 0, 0, 0},
			Imbalance: []float64{50, 50, 50, 50},
			PropDown:  []float64{0, 0, 0, 0}, PropUp: []float64{0.2, 0.2, 0.2, 0.2},
		},
		{
			Down: []float64{0, 5, 5, 5}, Up: []float64{0, 0, 0, 0},
			Imbalance: []float64{50, 50, 50, 50},
			PropDown:  []float64{0, 0, 0, 0}, PropUp: []float64{0.2, 0.2, 0.2, 0.2},
		},
	}
	set.Equiprobable()
	return domain.Problem{
		Loads: []domain.Load{{
			ID: "ev-1", Arrival: 0, Departure: 4, MinSOC: 10, Capacity: 20,
			MaxCharge: 5, Efficiency: 1,
		}},
		Market:     domain.Market{PTU: 1, Scenarios: set},
		NTimeSteps: 4,
	}
}

func TestSolve_CompactTwoScenarios(t *testing.T) {
	p := twoPriceProblem()
	pr := New(p, DefaultOptions(), nil)

	sol, err := pr.Solve(context.Background(), solver.Factory{})
	require.NoError(t, err)
	d := sol.Decisions

	var charged float64
	for _, c := range d.Charge[0] {
		charged += c * p.Market.PTU
	}
	assert.InDelta(t, 10.0, charged, 1e-4)
	assert.LessOrEqual(t, charged, 20.0)
	assert.InDelta(t, 500.0, sol.Objective, 1e-4)
	assert.InDelta(t, 10.0, d.SOC[0][3], 1e-4)
	assert.InDelta(t, 0.0, d.Shortage[0], 1e-6)

	// Aceptación no creciente a lo largo del orden de aceptación.
	a := pr.Ordering().Acceptance(domain.Down, 0)
	assert.Equal(t, []int{1, 0}, a)
	assert.LessOrEqual(t, d.AcceptDown[0][0][a[1]], d.AcceptDown[0][0][a[0]])

	require.NoError(t, pr.Check(d))
}

// clusterProblem: dos cargas de un periodo con pago por capacidad. La carga
// "full" está llena y sólo puede aceptar el escenario sin activación; la
// carga "empty" acepta todos.
func clusterProblem() domain.Problem {
	set := domain.ScenarioSet{
		{CapDown: []float64{6}, CapUp: []float64{0}, Down: []float64{0}, Up: []float64{0}, Imbalance: []float64{0}, PropDown: []float64{0}, PropUp: []float64{0}},
		{CapDown: []float64{4}, CapUp: []float64{0}, Down: []float64{0}, Up: []float64{0}, Imbalance: []float64{0}, PropDown: []float64{0.5}, PropUp: []float64{0}},
		{CapDown: []float64{2}, CapUp: []float64{0}, Down: []float64{0}, Up: []float64{0}, Imbalance: []float64{0}, PropDown: []float64{0.5}, PropUp: []float64{0}},
	}
	set.Equiprobable()
	load := domain.Load{Arrival: 0, Departure: 1, Capacity: 10, MaxCharge: 4, Efficiency: 1}
	full, empty := load, load
	full.ID, full.ArrivalSOC = "full", 10
	empty.ID = "empty"
	return domain.Problem{
		Loads:      []domain.Load{full, empty},
		Market:     domain.Market{PTU: 1, Scenarios: set},
		NTimeSteps: 1,
	}
}

func TestSolve_ClusterCapOneEqualizesAcceptedReserve(t *testing.T) {
	p := clusterProblem()
	opts := DefaultOptions()
	opts.CapacityPayment = true

	free, err := New(p, opts, nil).Solve(context.Background(), solver.Factory{})
	require.NoError(t, err)
	assert.InDelta(t, -24.0, free.Objective, 1e-4)

	opts.ClusterMethod, opts.DClusters = ClusterPerPeriod, 1
	pr := New(p, opts, nil)
	capped, err := pr.Solve(context.Background(), solver.Factory{})
	require.NoError(t, err)
	assert.InDelta(t, -16.0, capped.Objective, 1e-4)
	require.NoError(t, pr.Check(capped.Decisions))

	d := capped.Decisions
	var accepted []float64
	for i := 0; i < p.NScenarios(); i++ {
		var total float64
		for e := range p.Loads {
			total += d.AcceptDown[e][0][i] * d.Reserve(domain.Down, e, 0)
		}
		if total > 1e-6 {
			accepted = append(accepted, total)
		}
	}
	require.NotEmpty(t, accepted)
	for _, r := range accepted {
		assert.InDelta(t, accepted[0], r, 1e-4)
	}
}

func TestBuild_RejectsUnsupportedClearance(t *testing.T) {
	opts := DefaultOptions()
	opts.Clearance = "paid as bid"
	_, err := New(twoPriceProblem(), opts, nil).Build()
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	opts.Clearance = "Paid as cleared"
	_, err = New(twoPriceProblem(), opts, nil).Build()
	assert.NoError(t, err)
}

func TestBuild_MissingSeries(t *testing.T) {
	p := twoPriceProblem()
	p.Market.Scenarios[0].PropUp = nil
	_, err := New(p, DefaultOptions(), nil).Build()
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	opts := DefaultOptions()
	opts.DayAhead, opts.DayAheadFixed = true, true
	_, err = New(twoPriceProblem(), opts, nil).Build()
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "faltan precios day-ahead y decisiones previas")
}

func TestBuild_ImpossibleEmptyRowIsInvalidModel(t *testing.T) {
	p := twoPriceProblem()
	// la línea 1 no tiene cargas: su fila queda 0 ≤ -1
	p.Grid = domain.Grid{Lines: [][]float64{{9, 9, 9, 9}, {1, -1, 1, 1}}}
	opts := DefaultOptions()
	opts.Grid = true

	_, err := New(p, opts, nil).Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidModel)
	assert.NotErrorIs(t, err, domain.ErrInfeasible)
	assert.NotErrorIs(t, err, domain.ErrSolverFailure)

	_, err = New(p, opts, nil).Solve(context.Background(), solver.Factory{})
	assert.ErrorIs(t, err, domain.ErrInvalidModel)
}

func TestBuild_RelaxedAndQuantityOnlyAcceptance(t *testing.T) {
	opts := DefaultOptions()
	opts.RelaxedBinaryAfter = 1
	pr := New(twoPriceProblem(), opts, nil)
	m, err := pr.Build()
	require.NoError(t, err)

	lv := pr.v.loads[0]
	assert.Equal(t, "v"+domain.Down.String()+"_0_1_0", m.Variable(lv.v[domain.Down][1][0]).Name)
	assert.EqualValues(t, 1, m.Variable(lv.v[domain.Down][1][0]).Type)
	assert.EqualValues(t, 0, m.Variable(lv.v[domain.Down][2][0]).Type, "t > 1 es continua")

	opts = DefaultOptions()
	opts.QuantityOnly = true
	pr = New(twoPriceProblem(), opts, nil)
	m, err = pr.Build()
	require.NoError(t, err)
	v := m.Variable(pr.v.loads[0].v[domain.Up][0][1])
	assert.Equal(t, 1.0, v.LB)
	assert.Equal(t, 1.0, v.UB)
}

func TestBuild_FixedPeriodsFollowCommittedBids(t *testing.T) {
	p := twoPriceProblem()
	prev := domain.NewDecisionVariables(1, 4, 4)
	prev.ReserveChargeDown[0][0] = 2
	prev.BidDown[0][0] = 5
	p.Previous = prev

	opts := DefaultOptions()
	opts.FixedPTUs = 1
	pr := New(p, opts, nil)
	m, err := pr.Build()
	require.NoError(t, err)

	lv := pr.v.loads[0]
	// Escenario 1 (precio 0 <= 5) aceptado con toda la reserva comprometida.
	assert.Equal(t, 1.0, m.Variable(lv.v[domain.Down][0][1]).LB)
	assert.Equal(t, 2.0, m.Variable(lv.rc[domain.Down][0][1]).UB)
	assert.Equal(t, 0.0, m.Variable(lv.v[domain.Down][0][0]).UB)
	assert.Equal(t, 0.0, m.Variable(lv.rc[domain.Down][0][0]).UB)
	// El periodo 1 queda libre.
	assert.Equal(t, 1.0, m.Variable(lv.v[domain.Down][1][0]).UB)
	assert.Equal(t, 0.0, m.Variable(lv.v[domain.Down][1][0]).LB)
}

func TestBuild_NaiveV2GWithGrid(t *testing.T) {
	p := twoPriceProblem()
	p.Loads[0].MaxDischarge = 3
	p.Grid = domain.Grid{Lines: [][]float64{{4, 4, 4, 4}}}
	opts := DefaultOptions()
	opts.ReserveModel = ReserveNaive
	opts.V2G, opts.Grid = true, true
	opts.BatteryDegradation = 2

	pr := New(p, opts, nil)
	m, err := pr.Build()
	require.NoError(t, err)
	assert.Greater(t, m.NumIntegers(), 16)
	var names []string
	for _, c := range m.Constraints() {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "n_du_full_0_0_0")
	assert.Contains(t, names, "grid_0_3_1")
	assert.Contains(t, names, "dis_0_2")
}

func TestNewDeterministic_UsesQuantileBids(t *testing.T) {
	p := twoPriceProblem()
	pr := New(p, DefaultOptions(), nil)
	det := NewDeterministic(p, DefaultOptions(), 0.5, 0.5)

	assert.Equal(t, 1, det.Problem().NScenarios())
	assert.True(t, det.Options().QuantityOnly)
	assert.True(t, det.Options().Deterministic)
	want := scenario.QuantileBid(pr.Ordering(), domain.Down, 0, 0.5)
	assert.Equal(t, want, det.bids[domain.Down][0])

	sol, err := det.Solve(context.Background(), solver.Factory{})
	require.NoError(t, err)
	assert.Equal(t, want, sol.Decisions.BidDown[0][0])
	require.NoError(t, det.Check(sol.Decisions))
}

func TestDeriveBid(t *testing.T) {
	set := domain.ScenarioSet{
		{Down: []float64{5}, Up: []float64{3}},
		{Down: []float64{9}, Up: []float64{1}},
		{Down: []float64{1}, Up: []float64{2}},
	}
	set.Equiprobable()
	o := scenario.NewOrdering(set, false)

	// A bajar se aceptan los precios bajos.
	assert.InDelta(t, 8.999, DeriveBid(o, domain.Down, 0, []float64{1, 0, 1}), 1e-9)
	assert.InDelta(t, 0.999, DeriveBid(o, domain.Down, 0, []float64{0, 0, 0}), 1e-9)
	// A subir se aceptan los precios altos.
	assert.InDelta(t, 2.0, DeriveBid(o, domain.Up, 0, []float64{1, 0, 1}), 1e-9)
	assert.InDelta(t, 1.0, DeriveBid(o, domain.Up, 0, []float64{1, 1, 1}), 1e-9)
	assert.InDelta(t, 3.002, DeriveBid(o, domain.Up, 0, []float64{0, 0, 0}), 1e-9)
}

func TestClampPair(t *testing.T) {
	d, u := clampPair(1, 1, 5)
	assert.Equal(t, 1.0, d)
	assert.Equal(t, 1.0, u)

	d, u = clampPair(3, 3, 5)
	assert.InDelta(t, 5-clampMargin, d+u, 1e-12)
	assert.Equal(t, 3.0, u)
}

func TestCheck_Violations(t *testing.T) {
	p := twoPriceProblem()
	opts := DefaultOptions()
	fresh := func() *domain.DecisionVariables {
		return domain.NewDecisionVariables(1, 4, 4).WithAcceptance(2)
	}

	d := fresh()
	d.Charge[0][1] = 4
	d.ReserveChargeDown[0][1] = 2
	assert.ErrorIs(t, Check(p, opts, nil, d), domain.ErrNumericAssertion)

	d = fresh()
	p2 := p
	p2.Loads = []domain.Load{p.Loads[0]}
	p2.Loads[0].Departure = 2
	d.Charge[0][3] = 1
	assert.ErrorIs(t, Check(p2, opts, nil, d), domain.ErrNumericAssertion)

	d = fresh()
	d.Charge[0][1] = 1
	d.SOC[0][1] = 3
	assert.ErrorIs(t, Check(p, opts, nil, d), domain.ErrNumericAssertion, "el SOC no es continuo")

	d = fresh()
	// Orden de aceptación a bajar en t=0: [1, 0]. Aceptar 0 sin aceptar 1 es ilegal.
	d.AcceptDown[0][0][0] = 1
	assert.ErrorIs(t, Check(p, opts, nil, d), domain.ErrNumericAssertion)

	d = fresh()
	d.Charge[0][0], d.SOC[0][0] = 2, 2
	d.SOC[0][1], d.SOC[0][2], d.SOC[0][3] = 2, 2, 2
	assert.NoError(t, Check(p, opts, nil, d))
}

type brokenFactory struct{}

func (brokenFactory) NewSolver() (ports.Solver, error) { return nil, errors.New("licence server down") }

func TestSolve_SolverUnavailable(t *testing.T) {
	_, err := New(twoPriceProblem(), DefaultOptions(), nil).Solve(context.Background(), brokenFactory{})
	assert.ErrorIs(t, err, domain.ErrSolverFailure)
}
