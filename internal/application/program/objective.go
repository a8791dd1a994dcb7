package program

import "github.com/alejandrodnm/flexbid/internal/domain"

// objective minimiza el coste esperado: compras day-ahead y en desvíos,
// energía activada y pagos por capacidad de las reservas, degradación de la
// batería y penalizaciones de las holguras de SOC.
type objective struct{}

func (objective) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m
	set := p.Market.Scenarios
	ptu := p.Market.PTU

	for h, v := range pr.v.pda {
		m.AddObjective(v, p.Market.DayAheadPrice(p.StartT, h))
	}
	for t, v := range pr.v.pimb {
		abs := p.Abs(t)
		imb := set.Expected(func(s domain.Scenario) float64 { return s.ImbalancePrice(abs) })
		m.AddObjective(v, imb*ptu)
	}

	for e := range p.Loads {
		lv := &pr.v.loads[e]
		for i, sc := range set {
			m.AddObjective(lv.over[i], overflowPenalty)
			m.AddObjective(lv.short[i], o.ShortagePenalty*sc.Probability)
		}
		for t := 0; t < p.NTimeSteps; t++ {
			abs := p.Abs(t)
			if o.V2G && o.BatteryDegradation > 0 {
				m.AddObjective(lv.pd[t], o.BatteryDegradation*ptu)
			}
			if !o.Reserves {
				continue
			}
			for i, sc := range set {
				for _, side := range domain.Sides {
					prop := sc.Proportion(side, abs)
					energy := pr.energyPrice(sc, side, abs)
					var capacity float64
					if o.CapacityPayment {
						capacity = sc.CapacityPayment(side, abs)
					}
					// Down: se paga la energía activada; up: se cobra.
					coef := prop*energy - capacity
					if side == domain.Up {
						coef = -prop*energy - capacity
					}
					coef *= sc.Probability * ptu
					m.AddObjective(lv.rc[side][t][i], coef)

					rd := lv.discharge(side, t, i)
					deg := o.BatteryDegradation * sc.Probability * ptu * prop
					if side == domain.Down {
						deg = -deg
					}
					m.AddObjective(rd, coef+deg)
				}
			}
		}
	}
}

// energyPrice es el precio de la energía activada. Con pago por capacidad la
// energía se liquida a precio de desvío, salvo en la variante determinista,
// cuyo escenario colapsado ya lleva ese precio en la serie de regulación.
func (pr *Program) energyPrice(sc domain.Scenario, side domain.Side, t int) float64 {
	if pr.opts.CapacityPayment && !pr.opts.Deterministic {
		return sc.ImbalancePrice(t)
	}
	return sc.Price(side, t)
}
