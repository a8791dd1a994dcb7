package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flexbid/internal/application/program"
	"github.com/alejandrodnm/flexbid/internal/domain"
)

func quarterHourProblem() domain.Problem {
	imb := []float64{8, 8, 8, 8, 8, 8, 8, 8}
	return domain.Problem{
		Loads: []domain.Load{{
			ID: "ev", Arrival: 0, Departure: 8, MinSOC: 1.5, Capacity: 3, MaxCharge: 4, Efficiency: 1,
		}},
		Market: domain.Market{
			PTU:       0.25,
			DayAhead:  []float64{10, 20},
			Scenarios: domain.ScenarioSet{{Probability: 1, Imbalance: imb}},
		},
		NTimeSteps: 8,
	}
}

func TestDirect_DayAheadHourlyAverage(t *testing.T) {
	o := program.DefaultOptions()
	o.DayAhead = true

	d, err := Direct(quarterHourProblem(), o)
	require.NoError(t, err)

	assert.Equal(t, []float64{4, 2, 0, 0, 0, 0, 0, 0}, d.Charge[0])
	assert.InDelta(t, 1.5, d.SOC[0][1], 1e-12)
	assert.InDelta(t, 1.5, d.SOC[0][7], 1e-12)
	assert.InDeltaSlice(t, []float64{1.5, 0}, d.DayAhead, 1e-12)
	assert.InDeltaSlice(t, []float64{2.5, 0.5, -1.5, -1.5, 0, 0, 0, 0}, d.Imbalance, 1e-12)
	// el desvío suma cero dentro de la hora con precio constante
	assert.InDelta(t, 15.0, d.Cost, 1e-9)
	assert.Zero(t, d.Shortage[0])
}

func TestDirect_ImbalanceOnlyWithShortage(t *testing.T) {
	p := quarterHourProblem()
	p.Loads[0].Departure = 1
	o := program.DefaultOptions()
	o.ShortagePenalty = 100

	d, err := Direct(p, o)
	require.NoError(t, err)

	assert.Equal(t, 4.0, d.Charge[0][0])
	assert.InDelta(t, 0.5, d.Shortage[0], 1e-12)
	assert.InDelta(t, 8*0.25*4+100*0.5, d.Cost, 1e-9)
	assert.Zero(t, d.DayAhead[0])
}

func TestDirect_Efficiency(t *testing.T) {
	p := quarterHourProblem()
	p.Loads[0].Efficiency = 0.5
	p.Loads[0].MinSOC = 0.75

	d, err := Direct(p, program.DefaultOptions())
	require.NoError(t, err)
	// 0.5 MWh por periodo a máxima velocidad
	assert.InDeltaSlice(t, []float64{4, 2, 0, 0, 0, 0, 0, 0}, d.Charge[0], 1e-12)
	assert.InDelta(t, 0.75, d.SOC[0][1], 1e-12)
}

func TestDirect_RequiresEnergyMarket(t *testing.T) {
	o := program.DefaultOptions()
	o.Imbalance = false
	_, err := Direct(quarterHourProblem(), o)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}
