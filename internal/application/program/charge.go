package program

import (
	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/mip"
)

// overflowPenalty penaliza cada MWh por encima de la capacidad o por debajo de cero.
const overflowPenalty = 1000

// chargeFeasibility limita la potencia y hace evolucionar el SOC de cada
// escenario. Los límites de SOC son blandos: la holgura se penaliza en el
// objetivo.
type chargeFeasibility struct{}

func (chargeFeasibility) apply(pr *Program) {
	p, o, m := pr.p, pr.opts, pr.m
	nT, nS := p.NTimeSteps, p.NScenarios()
	ptu := p.Market.PTU

	for e, l := range p.Loads {
		lv := &pr.v.loads[e]
		eta := l.Eta()
		var etaD float64
		if o.V2G {
			etaD = 1 / eta
		}
		first, end := p.FirstPeriod(e), p.EndPeriod(e)

		for t := 0; t < nT; t++ {
			abs := p.Abs(t)
			if o.V2G {
				maxC, maxD := l.ChargeSpeed(abs), l.DischargeSpeed(abs)
				var c, d mip.Expr
				c.Add(lv.pc[t], 1).Add(lv.dir[t], maxC)
				m.AddConstraint(vname("chg", e, t), c, mip.LE, maxC)
				d.Add(lv.pd[t], 1).Add(lv.dir[t], -maxD)
				m.AddConstraint(vname("dis", e, t), d, mip.LE, 0)
			}
			if t < first {
				continue
			}
			for i := 0; i < nS; i++ {
				sc := p.Market.Scenarios[i]
				var ex mip.Expr
				ex.Add(lv.soc[t][i], 1)
				if t == first {
					ex.AddConst(-l.ArrivalSOC)
				} else {
					ex.Add(lv.soc[t-1][i], -1)
				}
				ex.Add(lv.pc[t], -eta*ptu).Add(lv.pd[t], etaD*ptu)
				if o.Reserves {
					epsD := sc.Proportion(domain.Down, abs) * ptu
					epsU := sc.Proportion(domain.Up, abs) * ptu
					ex.Add(lv.rc[domain.Down][t][i], -epsD*eta).Add(lv.discharge(domain.Down, t, i), -epsD*etaD)
					ex.Add(lv.rc[domain.Up][t][i], epsU*eta).Add(lv.discharge(domain.Up, t, i), epsU*etaD)
				}
				m.AddConstraint(vname("soc", e, t, i), ex, mip.EQ, 0)

				var hi, lo mip.Expr
				hi.Add(lv.soc[t][i], 1).Add(lv.over[i], -1)
				m.AddConstraint(vname("soc_max", e, t, i), hi, mip.LE, l.Capacity)
				lo.Add(lv.soc[t][i], 1).Add(lv.over[i], 1)
				m.AddConstraint(vname("soc_min", e, t, i), lo, mip.GE, 0)
			}
		}

		if end <= 0 || end-1 < first {
			continue
		}
		for i := 0; i < nS; i++ {
			var ex mip.Expr
			ex.Add(lv.soc[end-1][i], 1).Add(lv.short[i], 1)
			m.AddConstraint(vname("soc_dep", e, i), ex, mip.GE, l.MinSOC)
		}
	}
}
