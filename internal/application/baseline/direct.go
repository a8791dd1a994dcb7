// Package baseline calcula la carga directa de referencia: cada carga carga a
// máxima velocidad desde que llega hasta cubrir su SOC mínimo, sin reservas.
package baseline

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/flexbid/internal/application/program"
	"github.com/alejandrodnm/flexbid/internal/domain"
)

// Direct devuelve el plan de carga directa de p y su coste con los mercados
// de energía activos en o. La compra day-ahead es la media horaria de la
// potencia; el resto del perfil se liquida como desvío.
func Direct(p domain.Problem, o program.Options) (*domain.DecisionVariables, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("baseline.Direct: %w", err)
	}
	if !o.DayAhead && !o.Imbalance {
		return nil, fmt.Errorf("baseline.Direct: no energy market: %w", domain.ErrInvalidConfiguration)
	}
	ptu := p.Market.PTU
	d := domain.NewDecisionVariables(len(p.Loads), p.NTimeSteps, p.NHours())

	for e, l := range p.Loads {
		eta := l.Eta()
		soc := l.ArrivalSOC
		need := math.Max(0, l.MinSOC-soc)
		for t := p.FirstPeriod(e); t < p.EndPeriod(e); t++ {
			if step := math.Min(need, l.ChargeSpeed(p.Abs(t))*eta*ptu); step > 0 {
				d.Charge[e][t] = step / (eta * ptu)
				soc += step
				need -= step
			}
			d.SOC[e][t] = soc
		}
		// tras la salida el SOC se mantiene
		for t := max(p.FirstPeriod(e), p.EndPeriod(e)); t < p.NTimeSteps; t++ {
			d.SOC[e][t] = soc
		}
		if need > 1e-9 {
			d.Shortage[e] = need
		}
	}

	total := make([]float64, p.NTimeSteps)
	for e := range p.Loads {
		for t, pc := range d.Charge[e] {
			total[t] += pc
		}
	}

	var cost float64
	if o.DayAhead {
		for t, pc := range total {
			d.DayAhead[p.Hour(t)] += pc * ptu
		}
		for h, q := range d.DayAhead {
			cost += p.Market.DayAheadPrice(p.StartT, h) * q
		}
	}
	for t, pc := range total {
		d.Imbalance[t] = pc
		if o.DayAhead {
			d.Imbalance[t] -= d.DayAhead[p.Hour(t)]
		}
		abs := p.Abs(t)
		imb := p.Market.Scenarios.Expected(func(s domain.Scenario) float64 { return s.ImbalancePrice(abs) })
		cost += imb * ptu * d.Imbalance[t]
	}
	for _, s := range d.Shortage {
		cost += o.ShortagePenalty * s
	}
	d.Cost = cost
	return d, nil
}
