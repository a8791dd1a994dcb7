package scenario_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/scenario"
)

func fourScenarios() domain.ScenarioSet {
	set := domain.ScenarioSet{
		{Down: []float64{10}, Up: []float64{40}, CapDown: []float64{4}, CapUp: []float64{1}, Imbalance: []float64{30}, PropDown: []float64{0.2}, PropUp: []float64{0.4}},
		{Down: []float64{20}, Up: []float64{30}, CapDown: []float64{3}, CapUp: []float64{2}, Imbalance: []float64{40}, PropDown: []float64{0.2}, PropUp: []float64{0.4}},
		{Down: []float64{30}, Up: []float64{20}, CapDown: []float64{2}, CapUp: []float64{3}, Imbalance: []float64{50}, PropDown: []float64{0.2}, PropUp: []float64{0.4}},
		{Down: []float64{40}, Up: []float64{10}, CapDown: []float64{1}, CapUp: []float64{4}, Imbalance: []float64{60}, PropDown: []float64{0.2}, PropUp: []float64{0.4}},
	}
	set.Equiprobable()
	return set
}

func TestQuantileBid(t *testing.T) {
	set := fourScenarios()
	energy := scenario.NewOrdering(set, false)

	// Ranking down descendente: 40,30,20,10. chi=0.5 -> índice floor(0.5*3)=1 -> 30.
	assert.Equal(t, 30.0, scenario.QuantileBid(energy, domain.Down, 0, 0.5))
	// Up: 40,30,20,10, índice floor(0.5*3)=1 -> 30.
	assert.Equal(t, 30.0, scenario.QuantileBid(energy, domain.Up, 0, 0.5))
	assert.Equal(t, 1000.0, scenario.QuantileBid(energy, domain.Down, 0, 1))
	assert.Equal(t, -1000.0, scenario.QuantileBid(energy, domain.Up, 0, 1))

	capacity := scenario.NewOrdering(set, true)
	assert.Equal(t, 0.0, scenario.QuantileBid(capacity, domain.Down, 0, 1))
	// CapDown descendente: 4,3,2,1. chi=0.7 -> floor(2.1)=2 -> 2.
	assert.Equal(t, 2.0, scenario.QuantileBid(capacity, domain.Down, 0, 0.7))
}

func TestCollapse_EnergyMarket(t *testing.T) {
	c := scenario.Collapse(fourScenarios(), false, 0.5, 0.5, 0, 1)
	require.Len(t, c.Set, 1)
	sc := c.Set[0]

	assert.Equal(t, 1.0, sc.Probability)
	assert.Equal(t, 30.0, c.BidDown[0])
	// Down aceptado con precio <= 30: 10, 20, 30.
	assert.InDelta(t, 20.0, sc.Down[0], 1e-9)
	// Up aceptado con precio >= 30: 40, 30.
	assert.InDelta(t, 35.0, sc.Up[0], 1e-9)
	assert.InDelta(t, 0.1, sc.PropDown[0], 1e-12)
	assert.InDelta(t, 0.2, sc.PropUp[0], 1e-12)
	assert.InDelta(t, 45.0, sc.Imbalance[0], 1e-9)
	assert.Equal(t, 0.0, sc.CapDown[0])
}

func TestCollapse_CapacityMarket(t *testing.T) {
	c := scenario.Collapse(fourScenarios(), true, 0.7, 0.7, 0, 1)
	sc := c.Set[0]

	assert.Equal(t, 2.0, c.BidDown[0])
	// Aceptados con cap >= 2: escenarios 0,1,2 -> E[cap]=3, E[imb]=40.
	assert.InDelta(t, 0.7*3, sc.CapDown[0], 1e-9)
	assert.InDelta(t, 40.0, sc.Down[0], 1e-9)
}

func TestSelectionCache_GetOrCompute(t *testing.T) {
	c := scenario.NewSelectionCache()
	calls := 0
	compute := func() (scenario.Selection, error) {
		calls++
		return scenario.Selection{Indices: []int{0}, Probabilities: []float64{1}}, nil
	}

	_, hit, err := c.GetOrCompute(10, 3, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	s, hit, err := c.GetOrCompute(10, 3, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []int{0}, s.Indices)
	assert.Equal(t, 1, calls)

	_, _, err = c.GetOrCompute(10, 4, func() (scenario.Selection, error) {
		return scenario.Selection{}, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len(), "los errores no se guardan")
}
