package program

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flexbid/internal/adapters/solver"
	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/ports"
)

// solveChecked resuelve pr, exige el óptimo y pasa el comprobador y la
// coherencia entre ofertas y aceptación.
func solveChecked(t *testing.T, pr *Program) *Solution {
	t.Helper()
	sol, err := pr.Solve(context.Background(), solver.Factory{})
	require.NoError(t, err)
	require.Equal(t, ports.StatusOptimal, sol.Status)
	require.NoError(t, pr.Check(sol.Decisions))
	assertBidsReproduceAcceptance(t, pr, sol.Decisions)
	return sol
}

// assertBidsReproduceAcceptance comprueba que la oferta derivada de cada carga
// y periodo acepta exactamente los escenarios aceptados por el solver.
func assertBidsReproduceAcceptance(t *testing.T, pr *Program, d *domain.DecisionVariables) {
	t.Helper()
	if d.AcceptDown == nil || pr.opts.QuantityOnly {
		return
	}
	p := pr.Problem()
	for _, side := range domain.Sides {
		bids := d.BidDown
		if side == domain.Up {
			bids = d.BidUp
		}
		acc := d.Acceptance(side)
		for e := range p.Loads {
			for tt := 0; tt < p.NTimeSteps; tt++ {
				abs := p.Abs(tt)
				for i := 0; i < p.NScenarios(); i++ {
					price := pr.Ordering().SettlementPrice(side, abs, i)
					accepted := acc[e][tt][i] > acceptedThreshold
					assert.Equal(t, accepted, pr.Ordering().Accepts(side, price, bids[e][tt]),
						"load %d t=%d %s scenario %d: price %.3f bid %.3f", e, tt, side, i, price, bids[e][tt])
				}
			}
		}
	}
}

// reserveSeries: precios de reserva distintos por escenario pero sin
// activación, de modo que las reservas no cambian el coste.
func reserveSeries(n int, down, up float64) (d, u, zero []float64) {
	d, u, zero = make([]float64, n), make([]float64, n), make([]float64, n)
	for t := range d {
		d[t], u[t] = down+float64(t), up-float64(t)
	}
	return d, u, zero
}

func TestSolve_V2GSellsAtThePeak(t *testing.T) {
	d0, u0, zero := reserveSeries(4, 5, 80)
	d1, u1, _ := reserveSeries(4, 15, 60)
	set := domain.ScenarioSet{
		{Down: d0, Up: u0, Imbalance: []float64{10, 100, 10, 10}, PropDown: zero, PropUp: zero},
		{Down: d1, Up: u1, Imbalance: []float64{10, 100, 10, 10}, PropDown: zero, PropUp: zero},
	}
	set.Equiprobable()
	p := domain.Problem{
		Loads: []domain.Load{{
			ID: "ev-1", Arrival: 0, Departure: 4, ArrivalSOC: 5, MinSOC: 5, Capacity: 10,
			MaxCharge: 5, MaxDischarge: 5, Efficiency: 1,
		}},
		Market:     domain.Market{PTU: 1, Scenarios: set},
		NTimeSteps: 4,
	}
	opts := DefaultOptions()
	opts.V2G = true

	pr := New(p, opts, nil)
	sol := solveChecked(t, pr)
	d := sol.Decisions

	// vender 5 a 100 y reponerlos a 10
	assert.InDelta(t, -450.0, sol.Objective, 1e-4)
	assert.InDelta(t, 5.0, d.Discharge[0][1], 1e-4)
	for tt := 0; tt < p.NTimeSteps; tt++ {
		assert.False(t, d.Charge[0][tt] > 1e-6 && d.Discharge[0][tt] > 1e-6, "t=%d charges and discharges", tt)
	}
	assert.InDelta(t, 0, d.Shortage[0], 1e-6)
}

func TestSolve_DayAheadAndImbalanceKeepTheSameSign(t *testing.T) {
	d0, u0, zero := reserveSeries(4, 5, 80)
	set := domain.ScenarioSet{
		{Down: d0, Up: u0, Imbalance: []float64{40, 70, 40, 70}, PropDown: zero, PropUp: zero},
		{Down: u0, Up: d0, Imbalance: []float64{50, 50, 50, 50}, PropDown: zero, PropUp: zero},
	}
	set.Equiprobable()
	p := domain.Problem{
		Loads: []domain.Load{{
			ID: "ev-1", Arrival: 0, Departure: 4, MinSOC: 2, Capacity: 10,
			MaxCharge: 4, Efficiency: 1,
		}},
		Market:     domain.Market{PTU: 0.25, DayAhead: []float64{50}, Scenarios: set},
		NTimeSteps: 4,
	}
	opts := DefaultOptions()
	opts.DayAhead = true

	pr := New(p, opts, nil)
	sol := solveChecked(t, pr)
	d := sol.Decisions

	// Sin separación saldría más barato comprar la hora entera y revender
	// en los periodos caros (60); con ella sólo se compra en desvíos a 45.
	assert.InDelta(t, 90.0, sol.Objective, 1e-4)
	for tt := 0; tt < p.NTimeSteps; tt++ {
		da, imb := d.DayAhead[p.Hour(tt)], d.Imbalance[tt]
		assert.GreaterOrEqual(t, da*imb, -1e-9, "t=%d day-ahead %.4f imbalance %.4f", tt, da, imb)
		assert.InDelta(t, d.Charge[0][tt]-d.Discharge[0][tt], da+imb, 1e-6, "t=%d balance", tt)
	}
}

func TestSolve_GridCapSpreadsCharging(t *testing.T) {
	d0, u0, zero := reserveSeries(2, 5, 80)
	set := domain.ScenarioSet{
		{Down: d0, Up: u0, Imbalance: []float64{10, 50}, PropDown: zero, PropUp: zero},
		{Down: u0, Up: d0, Imbalance: []float64{10, 50}, PropDown: zero, PropUp: zero},
	}
	set.Equiprobable()
	load := domain.Load{Arrival: 0, Departure: 2, MinSOC: 4, Capacity: 10, MaxCharge: 4, Efficiency: 1}
	a, b := load, load
	a.ID, b.ID = "a", "b"
	p := domain.Problem{
		Loads:      []domain.Load{a, b},
		Market:     domain.Market{PTU: 1, Scenarios: set},
		Grid:       domain.Grid{Lines: [][]float64{{5, 5}}},
		NTimeSteps: 2,
	}
	opts := DefaultOptions()
	opts.Grid = true

	pr := New(p, opts, nil)
	sol := solveChecked(t, pr)
	d := sol.Decisions

	// 5 MWh a 10 y los 3 restantes a 50
	assert.InDelta(t, 200.0, sol.Objective, 1e-4)
	for tt := 0; tt < p.NTimeSteps; tt++ {
		assert.LessOrEqual(t, d.Charge[0][tt]+d.Charge[1][tt], 5.0+1e-6, "t=%d", tt)
	}
	assert.InDelta(t, 0, d.Shortage[0]+d.Shortage[1], 1e-6)
}

func TestSolve_NaiveReserves(t *testing.T) {
	p := twoPriceProblem()
	opts := DefaultOptions()
	opts.ReserveModel = ReserveNaive

	pr := New(p, opts, nil)
	sol := solveChecked(t, pr)
	assert.InDelta(t, 500.0, sol.Objective, 1e-4)
	assert.InDelta(t, 0, sol.Decisions.Shortage[0], 1e-6)

	// Aceptada, la oferta naive compromete toda la capacidad restante.
	d := sol.Decisions
	maxC := p.Loads[0].MaxCharge
	for tt := 0; tt < p.NTimeSteps; tt++ {
		for i := 0; i < p.NScenarios(); i++ {
			if d.AcceptDown[0][tt][i] == 1 {
				assert.InDelta(t, maxC, d.Charge[0][tt]+d.ReserveChargeDown[0][tt], 1e-4, "t=%d scenario %d", tt, i)
			}
		}
	}
}

func TestSolve_PerLoadGroupsShareOnePattern(t *testing.T) {
	p := clusterProblem()
	opts := DefaultOptions()
	opts.CapacityPayment = true
	opts.ClusterMethod, opts.DClusters = ClusterPerLoad, 1

	pr := New(p, opts, nil)
	sol := solveChecked(t, pr)
	assert.InDelta(t, -16.0, sol.Objective, 1e-4)

	d := sol.Decisions
	assert.Equal(t, d.AcceptDown[0][0], d.AcceptDown[1][0])
	assert.InDelta(t, d.BidDown[0][0], d.BidDown[1][0], 1e-9)
}
